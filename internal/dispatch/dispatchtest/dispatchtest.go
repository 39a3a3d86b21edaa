// Package dispatchtest records dispatched notifications and messages.
package dispatchtest

import (
	"context"
	"sync"

	"github.com/mycelian/mycelian-companion/internal/model"
)

type Sent struct {
	Kind     string // "notify" or "message"
	UserID   string
	To       string
	Title    string
	Body     string
	Priority model.InsightPriority
}

// Recorder implements dispatch.Dispatcher in memory.
type Recorder struct {
	Err error

	mu   sync.Mutex
	sent []Sent
}

func (r *Recorder) Notify(_ context.Context, userID, title, body string, priority model.InsightPriority) error {
	return r.record(Sent{Kind: "notify", UserID: userID, Title: title, Body: body, Priority: priority})
}

func (r *Recorder) SendMessage(_ context.Context, userID, toNumber, body string, priority model.InsightPriority) error {
	return r.record(Sent{Kind: "message", UserID: userID, To: toNumber, Body: body, Priority: priority})
}

func (r *Recorder) record(s Sent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, s)
	return nil
}

func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}
