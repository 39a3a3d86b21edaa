package insight

import (
	"context"
	"strings"

	"github.com/mycelian/mycelian-companion/internal/dispatch"
	"github.com/mycelian/mycelian-companion/internal/model"
)

const batchTitle = "Your companion"

// MessageBatch collects send_message actions so a user receives one summary
// message per cycle instead of one per insight.
type MessageBatch struct {
	lines []string
}

func NewMessageBatch() *MessageBatch { return &MessageBatch{} }

func (b *MessageBatch) Add(line string) {
	line = strings.TrimSpace(line)
	if line != "" {
		b.lines = append(b.lines, line)
	}
}

func (b *MessageBatch) Len() int { return len(b.lines) }

// Body renders the queued lines as one message.
func (b *MessageBatch) Body() string {
	if len(b.lines) == 1 {
		return b.lines[0]
	}
	var sb strings.Builder
	for i, l := range b.lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("• " + l)
	}
	return sb.String()
}

// Flush sends the batch and empties it. Users without a phone number get a
// notification instead.
func (b *MessageBatch) Flush(ctx context.Context, d dispatch.Dispatcher, user *model.User) error {
	if len(b.lines) == 0 || user == nil {
		return nil
	}
	body := b.Body()
	b.lines = nil
	if user.PhoneNumber == "" {
		return d.Notify(ctx, user.ID, batchTitle, body, model.PriorityHigh)
	}
	return d.SendMessage(ctx, user.ID, user.PhoneNumber, body, model.PriorityHigh)
}
