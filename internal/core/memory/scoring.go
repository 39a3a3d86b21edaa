package memory

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mycelian/mycelian-companion/internal/model"
)

// Relevance weights. Changing any of these changes retrieval order for every caller.
const (
	WeightImportance = 0.25
	WeightRecency    = 0.25
	WeightAccess     = 0.15
	WeightKeywords   = 0.35
)

const (
	recencyHorizonDays   = 365.0
	accessSaturation     = 10.0
	hoursPerDay          = 24.0
	defaultRelevantLimit = 10
)

// ScoredMemory pairs a memory with its relevance score at query time.
type ScoredMemory struct {
	Memory *model.Memory `json:"memory"`
	Score  float64       `json:"score"`
}

// RecencyScore decays exponentially with age in days and is clipped to [0,1].
func RecencyScore(age time.Duration) float64 {
	days := age.Hours() / hoursPerDay
	if days < 0 {
		days = 0
	}
	return clip01(math.Exp(-days / recencyHorizonDays))
}

// AccessFrequency saturates at ten reads.
func AccessFrequency(count int64) float64 {
	if count <= 0 {
		return 0
	}
	return math.Min(1, float64(count)/accessSaturation)
}

// KeywordOverlap is the fraction of keywords found in the memory's content,
// summary or tags. With no keywords every memory matches fully.
func KeywordOverlap(m *model.Memory, keywords []string) float64 {
	if len(keywords) == 0 {
		return 1
	}
	hay := haystack(m)
	matched := 0
	for _, k := range keywords {
		if strings.Contains(hay, k) {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}

// Score combines importance, recency, access frequency and keyword overlap.
// keywords must already be normalized with NormalizeKeywords.
func Score(m *model.Memory, keywords []string, now time.Time) float64 {
	s := WeightImportance*m.Importance.Normalized() +
		WeightRecency*RecencyScore(now.Sub(m.CreatedAt)) +
		WeightAccess*AccessFrequency(m.AccessCount) +
		WeightKeywords*KeywordOverlap(m, keywords)
	return clip01(s)
}

// NormalizeKeywords lowercases, trims and dedupes keywords, dropping empties.
func NormalizeKeywords(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// rank scores and sorts memories, highest first; ties go to the newer memory.
func rank(ms []*model.Memory, keywords []string, now time.Time) []ScoredMemory {
	out := make([]ScoredMemory, 0, len(ms))
	for _, m := range ms {
		out = append(out, ScoredMemory{Memory: m, Score: Score(m, keywords, now)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Memory.CreatedAt.Equal(out[j].Memory.CreatedAt) {
			return out[i].Memory.CreatedAt.After(out[j].Memory.CreatedAt)
		}
		return out[i].Memory.ID < out[j].Memory.ID
	})
	return out
}

func haystack(m *model.Memory) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(m.Content))
	if m.Summary != nil {
		b.WriteByte(' ')
		b.WriteString(strings.ToLower(*m.Summary))
	}
	for _, t := range m.Tags {
		b.WriteByte(' ')
		b.WriteString(strings.ToLower(t))
	}
	return b.String()
}

func clip01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
