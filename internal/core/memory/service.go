package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-companion/internal/cache"
	"github.com/mycelian/mycelian-companion/internal/crypto"
	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
)

// Input limits.
const (
	MaxContentChars = 100_000
	MaxSummaryChars = 500
	MaxTags         = 50
	MaxSearchLimit  = 100
)

const (
	DefaultCacheTTL  = 5 * time.Minute
	DefaultRetention = 90 * 24 * time.Hour

	defaultSearchLimit = 20
	// candidateCap bounds how many rows are scored in memory per query.
	candidateCap = 500
)

// CacheObserver is told about every cache lookup.
type CacheObserver func(hit bool)

// Config tunes the memory service.
type Config struct {
	CacheTTL  time.Duration
	Retention time.Duration
}

// Service contains the core business logic for memories.
type Service struct {
	store     store.Store
	cache     cache.Cache
	enc       crypto.Encryptor
	clock     clockwork.Clock
	log       zerolog.Logger
	ttl       time.Duration
	retention time.Duration
	observe   CacheObserver
}

// NewService wires a memory service. A nil cache disables caching and a nil
// encryptor stores content as given.
func NewService(st store.Store, c cache.Cache, enc crypto.Encryptor, clock clockwork.Clock, log zerolog.Logger, cfg Config) *Service {
	if enc == nil {
		enc = crypto.Noop{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Service{
		store:     st,
		cache:     c,
		enc:       enc,
		clock:     clock,
		log:       log.With().Str("component", "memory").Logger(),
		ttl:       cfg.CacheTTL,
		retention: cfg.Retention,
	}
}

// SetCacheObserver installs a hook for cache hit/miss accounting.
func (s *Service) SetCacheObserver(o CacheObserver) { s.observe = o }

// CreateInput carries a new memory.
type CreateInput struct {
	UserID           string
	Type             model.MemoryType
	Content          string
	Summary          *string
	Importance       model.Importance
	Tags             []string
	RelatedMemoryIDs []string
	ExpiresAt        *time.Time
}

// UpdateInput changes selected fields; nil fields are left alone.
type UpdateInput struct {
	Content    *string
	Summary    *string
	Importance *model.Importance
	Tags       *[]string
	ExpiresAt  *time.Time
	// ClearExpiry removes an expiry; it wins over ExpiresAt.
	ClearExpiry bool
	// Status may move a memory between active and archived.
	Status *model.MemoryStatus
}

// SearchQuery filters memories. Text, when set, ranks results by relevance and
// keeps only memories matching at least one of its words.
type SearchQuery struct {
	UserID        string               `json:"userId"`
	Types         []model.MemoryType   `json:"types,omitempty"`
	Statuses      []model.MemoryStatus `json:"statuses,omitempty"`
	MinImportance model.Importance     `json:"minImportance,omitempty"`
	Tags          []string             `json:"tags,omitempty"`
	CreatedAfter  *time.Time           `json:"createdAfter,omitempty"`
	CreatedBefore *time.Time           `json:"createdBefore,omitempty"`
	Text          string               `json:"text,omitempty"`
	Limit         int                  `json:"limit,omitempty"`
	Offset        int                  `json:"offset,omitempty"`
}

type SearchResult struct {
	Memories []*model.Memory `json:"memories"`
	Total    int64           `json:"total"`
	HasMore  bool            `json:"hasMore"`
}

// RelevanceQuery selects candidates for GetRelevantMemories.
type RelevanceQuery struct {
	UserID        string             `json:"userId"`
	Keywords      []string           `json:"keywords,omitempty"`
	Types         []model.MemoryType `json:"types,omitempty"`
	MinImportance model.Importance   `json:"minImportance,omitempty"`
	Since         *time.Time         `json:"since,omitempty"`
	Limit         int                `json:"limit,omitempty"`
}

// Create validates, encrypts and stores a new memory.
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Memory, error) {
	if err := s.validateCreate(&in); err != nil {
		return nil, err
	}
	sealed, err := s.enc.Encrypt(in.UserID, in.Content)
	if err != nil {
		return nil, fmt.Errorf("encrypt content: %w", err)
	}
	now := s.clock.Now()
	m := &model.Memory{
		UserID:           in.UserID,
		Type:             in.Type,
		Content:          sealed,
		Summary:          in.Summary,
		Importance:       in.Importance,
		Status:           model.MemoryActive,
		Tags:             dedupe(in.Tags),
		RelatedMemoryIDs: dedupe(in.RelatedMemoryIDs),
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        in.ExpiresAt,
	}
	created, err := s.store.Memories().Create(ctx, m)
	if err != nil {
		s.log.Error().Err(err).Str("userID", in.UserID).Msg("Failed to create memory")
		return nil, err
	}
	s.invalidate(ctx, in.UserID)
	s.log.Info().Str("userID", in.UserID).Str("memoryID", created.ID).Str("type", string(created.Type)).Msg("Memory created")
	return s.open(created)
}

// Get returns one memory and records the read.
func (s *Service) Get(ctx context.Context, memoryID, userID string) (*model.Memory, error) {
	if userID == "" {
		return nil, NewValidationError("userID", "user ID is required")
	}
	if memoryID == "" {
		return nil, NewValidationError("memoryID", "memory ID is required")
	}
	var m model.Memory
	err := s.cached(ctx, userID, "get:"+memoryID, &m, func() (any, error) {
		return s.store.Memories().Get(ctx, userID, memoryID)
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, NewNotFoundError("memoryID", "memory not found")
		}
		return nil, err
	}
	s.touch(ctx, userID, []*model.Memory{&m})
	return s.open(&m)
}

// Update applies in to an existing memory.
func (s *Service) Update(ctx context.Context, memoryID, userID string, in UpdateInput) (*model.Memory, error) {
	if userID == "" {
		return nil, NewValidationError("userID", "user ID is required")
	}
	cur, err := s.store.Memories().Get(ctx, userID, memoryID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, NewNotFoundError("memoryID", "memory not found")
		}
		return nil, err
	}
	now := s.clock.Now()
	next := *cur
	if in.Content != nil {
		if err := validateContent(*in.Content); err != nil {
			return nil, err
		}
		sealed, err := s.enc.Encrypt(userID, *in.Content)
		if err != nil {
			return nil, fmt.Errorf("encrypt content: %w", err)
		}
		next.Content = sealed
	}
	if in.Summary != nil {
		if err := validateSummary(in.Summary); err != nil {
			return nil, err
		}
		next.Summary = in.Summary
	}
	if in.Importance != nil {
		if !in.Importance.Valid() {
			return nil, NewValidationError("importance", "importance must be between 1 and 5")
		}
		next.Importance = *in.Importance
	}
	if in.Tags != nil {
		if len(*in.Tags) > MaxTags {
			return nil, NewValidationError("tags", fmt.Sprintf("at most %d tags allowed", MaxTags))
		}
		next.Tags = dedupe(*in.Tags)
	}
	switch {
	case in.ClearExpiry:
		next.ExpiresAt = nil
	case in.ExpiresAt != nil:
		next.ExpiresAt = in.ExpiresAt
	}
	if in.Status != nil && *in.Status != next.Status {
		switch *in.Status {
		case model.MemoryActive:
			next.ArchivedAt = nil
		case model.MemoryArchived:
			next.ArchivedAt = &now
		default:
			return nil, NewValidationError("status", "status must be active or archived")
		}
		next.Status = *in.Status
	}
	next.UpdatedAt = now
	updated, err := s.store.Memories().Update(ctx, &next)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, NewNotFoundError("memoryID", "memory not found")
		}
		return nil, err
	}
	s.invalidate(ctx, userID)
	return s.open(updated)
}

// Delete soft-deletes a memory; deleted memories disappear from every read.
func (s *Service) Delete(ctx context.Context, memoryID, userID string) error {
	if userID == "" {
		return NewValidationError("userID", "user ID is required")
	}
	cur, err := s.store.Memories().Get(ctx, userID, memoryID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return NewNotFoundError("memoryID", "memory not found")
		}
		return err
	}
	cur.Status = model.MemoryDeleted
	cur.UpdatedAt = s.clock.Now()
	if _, err := s.store.Memories().Update(ctx, cur); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return NewNotFoundError("memoryID", "memory not found")
		}
		return err
	}
	s.invalidate(ctx, userID)
	s.log.Info().Str("userID", userID).Str("memoryID", memoryID).Msg("Memory deleted")
	return nil
}

// Search filters memories, optionally ranking by free text.
func (s *Service) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	if q.UserID == "" {
		return nil, NewValidationError("userID", "user ID is required")
	}
	if q.Limit <= 0 {
		q.Limit = defaultSearchLimit
	}
	if q.Limit > MaxSearchLimit {
		q.Limit = MaxSearchLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if len(q.Statuses) == 0 {
		q.Statuses = []model.MemoryStatus{model.MemoryActive}
	}
	for _, t := range q.Types {
		if !t.Valid() {
			return nil, NewValidationError("types", fmt.Sprintf("unknown memory type %q", t))
		}
	}
	keywords := NormalizeKeywords(strings.Fields(q.Text))

	var res SearchResult
	err := s.cached(ctx, q.UserID, "search:"+queryKey(q), &res, func() (any, error) {
		if len(keywords) == 0 {
			return s.searchPage(ctx, q)
		}
		return s.searchText(ctx, q, keywords)
	})
	if err != nil {
		return nil, err
	}
	s.touch(ctx, q.UserID, res.Memories)
	for i, m := range res.Memories {
		if res.Memories[i], err = s.open(m); err != nil {
			return nil, err
		}
	}
	if res.Memories == nil {
		res.Memories = []*model.Memory{}
	}
	return &res, nil
}

func (s *Service) searchPage(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	ms, total, err := s.store.Memories().List(ctx, filterFor(q, q.Limit, q.Offset))
	if err != nil {
		return nil, err
	}
	return &SearchResult{Memories: ms, Total: total, HasMore: int64(q.Offset+len(ms)) < total}, nil
}

// searchText scores candidates on plaintext, so it decrypts before ranking and
// re-seals the page to keep the cache free of plaintext.
func (s *Service) searchText(ctx context.Context, q SearchQuery, keywords []string) (*SearchResult, error) {
	ms, _, err := s.store.Memories().List(ctx, filterFor(q, candidateCap, 0))
	if err != nil {
		return nil, err
	}
	sealed := make(map[string]string, len(ms))
	plain := make([]*model.Memory, 0, len(ms))
	for _, m := range ms {
		sealed[m.ID] = m.Content
		p, err := s.open(m)
		if err != nil {
			return nil, err
		}
		if KeywordOverlap(p, keywords) > 0 {
			plain = append(plain, p)
		}
	}
	ranked := rank(plain, keywords, s.clock.Now())
	total := int64(len(ranked))
	page := make([]*model.Memory, 0, q.Limit)
	for i := q.Offset; i < len(ranked) && len(page) < q.Limit; i++ {
		m := *ranked[i].Memory
		m.Content = sealed[m.ID]
		page = append(page, &m)
	}
	return &SearchResult{Memories: page, Total: total, HasMore: int64(q.Offset+len(page)) < total}, nil
}

// GetRelevantMemories ranks active memories against keywords.
func (s *Service) GetRelevantMemories(ctx context.Context, q RelevanceQuery) ([]ScoredMemory, error) {
	if q.UserID == "" {
		return nil, NewValidationError("userID", "user ID is required")
	}
	if q.Limit <= 0 {
		q.Limit = defaultRelevantLimit
	}
	keywords := NormalizeKeywords(q.Keywords)
	q.Keywords = keywords

	var candidates []*model.Memory
	err := s.cached(ctx, q.UserID, "relevant:"+queryKey(q), &candidates, func() (any, error) {
		ms, _, err := s.store.Memories().List(ctx, model.MemoryFilter{
			UserID:        q.UserID,
			Types:         q.Types,
			Statuses:      []model.MemoryStatus{model.MemoryActive},
			MinImportance: q.MinImportance,
			CreatedAfter:  q.Since,
			Limit:         candidateCap,
		})
		return ms, err
	})
	if err != nil {
		return nil, err
	}
	s.refreshAccess(ctx, q.UserID, candidates)
	plain := make([]*model.Memory, 0, len(candidates))
	for _, m := range candidates {
		p, err := s.open(m)
		if err != nil {
			return nil, err
		}
		plain = append(plain, p)
	}
	ranked := rank(plain, keywords, s.clock.Now())
	if len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}
	top := make([]*model.Memory, 0, len(ranked))
	for _, r := range ranked {
		top = append(top, r.Memory)
	}
	s.touch(ctx, q.UserID, top)
	return ranked, nil
}

// Recent lists the newest active memories, optionally restricted by type and age.
func (s *Service) Recent(ctx context.Context, userID string, types []model.MemoryType, since *time.Time, limit int) ([]*model.Memory, error) {
	if userID == "" {
		return nil, NewValidationError("userID", "user ID is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	ms, _, err := s.store.Memories().List(ctx, model.MemoryFilter{
		UserID:       userID,
		Types:        types,
		Statuses:     []model.MemoryStatus{model.MemoryActive},
		CreatedAfter: since,
		Limit:        limit,
	})
	if err != nil {
		return nil, err
	}
	s.touch(ctx, userID, ms)
	out := make([]*model.Memory, 0, len(ms))
	for _, m := range ms {
		p, err := s.open(m)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Stats counts a user's memories by type, status and importance.
func (s *Service) Stats(ctx context.Context, userID string) (*model.MemoryStats, error) {
	if userID == "" {
		return nil, NewValidationError("userID", "user ID is required")
	}
	var st model.MemoryStats
	if err := s.cached(ctx, userID, "stats", &st, func() (any, error) {
		return s.store.Memories().Stats(ctx, userID)
	}); err != nil {
		return nil, err
	}
	return &st, nil
}

// ArchiveExpired moves active memories past their expiry to archived.
func (s *Service) ArchiveExpired(ctx context.Context) (int64, error) {
	users, err := s.store.Memories().ArchiveExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	s.invalidateAll(ctx, users)
	if len(users) > 0 {
		s.log.Info().Int("count", len(users)).Msg("Archived expired memories")
	}
	return int64(len(users)), nil
}

// DeleteExpired deletes memories archived longer than the retention window.
func (s *Service) DeleteExpired(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	users, err := s.store.Memories().DeleteArchivedBefore(ctx, now.Add(-s.retention), now)
	if err != nil {
		return 0, err
	}
	s.invalidateAll(ctx, users)
	if len(users) > 0 {
		s.log.Info().Int("count", len(users)).Msg("Deleted archived memories past retention")
	}
	return int64(len(users)), nil
}

func (s *Service) validateCreate(in *CreateInput) error {
	if in.UserID == "" {
		return NewValidationError("userID", "user ID is required")
	}
	if !in.Type.Valid() {
		return NewValidationError("type", fmt.Sprintf("unknown memory type %q", in.Type))
	}
	if err := validateContent(in.Content); err != nil {
		return err
	}
	if err := validateSummary(in.Summary); err != nil {
		return err
	}
	if len(in.Tags) > MaxTags {
		return NewValidationError("tags", fmt.Sprintf("at most %d tags allowed", MaxTags))
	}
	if in.Importance == 0 {
		in.Importance = model.ImportanceMedium
	}
	if !in.Importance.Valid() {
		return NewValidationError("importance", "importance must be between 1 and 5")
	}
	return nil
}

func validateContent(c string) error {
	if strings.TrimSpace(c) == "" {
		return NewValidationError("content", "content is required")
	}
	if utf8.RuneCountInString(c) > MaxContentChars {
		return NewValidationError("content", fmt.Sprintf("content exceeds %d characters", MaxContentChars))
	}
	return nil
}

func validateSummary(sum *string) error {
	if sum != nil && utf8.RuneCountInString(*sum) > MaxSummaryChars {
		return NewValidationError("summary", fmt.Sprintf("summary exceeds %d characters", MaxSummaryChars))
	}
	return nil
}

// open returns a copy of m with plaintext content.
func (s *Service) open(m *model.Memory) (*model.Memory, error) {
	out := *m
	plain, err := s.enc.Decrypt(m.UserID, m.Content)
	if err != nil {
		return nil, fmt.Errorf("decrypt memory %s: %w", m.ID, err)
	}
	out.Content = plain
	return &out, nil
}

// touch records a read and overlays the stored access stats on ms, so cached
// copies report the same counts as the store. Failures are logged; a read never
// fails because of it.
func (s *Service) touch(ctx context.Context, userID string, ms []*model.Memory) {
	if len(ms) == 0 {
		return
	}
	now := s.clock.Now()
	stats, err := s.store.Memories().TouchAccess(ctx, userID, memoryIDs(ms), now)
	if err != nil {
		s.log.Warn().Err(err).Str("userID", userID).Int("count", len(ms)).Msg("Failed to record memory access")
		for _, m := range ms {
			m.AccessCount++
			if m.LastAccessedAt == nil || m.LastAccessedAt.Before(now) {
				t := now
				m.LastAccessedAt = &t
			}
		}
		return
	}
	overlayAccess(ms, stats)
}

// refreshAccess replaces possibly cached access stats on ms with stored ones.
func (s *Service) refreshAccess(ctx context.Context, userID string, ms []*model.Memory) {
	if len(ms) == 0 {
		return
	}
	stats, err := s.store.Memories().AccessStats(ctx, userID, memoryIDs(ms))
	if err != nil {
		s.log.Warn().Err(err).Str("userID", userID).Msg("Failed to refresh memory access stats")
		return
	}
	overlayAccess(ms, stats)
}

func memoryIDs(ms []*model.Memory) []string {
	ids := make([]string, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.ID)
	}
	return ids
}

func overlayAccess(ms []*model.Memory, stats map[string]model.AccessStats) {
	for _, m := range ms {
		if st, ok := stats[m.ID]; ok {
			m.AccessCount = st.AccessCount
			m.LastAccessedAt = st.LastAccessedAt
		}
	}
}

func scope(userID string) string { return "memory:" + userID }

// cached reads key from the user's cache scope into dst, falling back to load
// and populating the cache on a miss. Cache errors degrade to a store read.
func (s *Service) cached(ctx context.Context, userID, key string, dst any, load func() (any, error)) error {
	if s.cache != nil {
		raw, ok, err := s.cache.Get(ctx, scope(userID), key)
		if err != nil {
			s.log.Warn().Err(err).Str("userID", userID).Str("key", key).Msg("Cache read failed")
		}
		if s.observe != nil && err == nil {
			s.observe(ok)
		}
		if ok && err == nil {
			if err := json.Unmarshal(raw, dst); err == nil {
				return nil
			}
		}
	}
	v, err := load()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, scope(userID), key, raw, s.ttl); err != nil {
			s.log.Warn().Err(err).Str("userID", userID).Str("key", key).Msg("Cache write failed")
		}
	}
	return nil
}

// invalidate drops every cached read for the user. A failure leaves reads stale
// for at most the cache TTL and never fails the write that triggered it.
func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateScope(ctx, scope(userID)); err != nil {
		s.log.Warn().Err(err).Str("userID", userID).Msg("Cache invalidation failed")
	}
}

func (s *Service) invalidateAll(ctx context.Context, userIDs []string) {
	seen := map[string]struct{}{}
	for _, u := range userIDs {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		s.invalidate(ctx, u)
	}
}

func filterFor(q SearchQuery, limit, offset int) model.MemoryFilter {
	return model.MemoryFilter{
		UserID:        q.UserID,
		Types:         q.Types,
		Statuses:      q.Statuses,
		MinImportance: q.MinImportance,
		Tags:          q.Tags,
		CreatedAfter:  q.CreatedAfter,
		CreatedBefore: q.CreatedBefore,
		Limit:         limit,
		Offset:        offset,
	}
}

func queryKey(q any) string {
	b, _ := json.Marshal(q)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:12])
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
