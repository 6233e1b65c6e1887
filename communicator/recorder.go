package communicator

import (
	"context"
	"strconv"
	"sync"
)

// Sent is one action captured by a Recorder.
type Sent struct {
	Kind     string // text, image or delete
	Ref      MessageRef
	Text     string
	Keyboard *Keyboard
}

// Recorder is an in-memory Messenger for tests and dry runs.
type Recorder struct {
	mu   sync.Mutex
	next int
	sent []Sent
	// Err, when set, is returned by every call.
	Err error
}

var _ Messenger = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) SendText(_ context.Context, conversationID, text string, kb *Keyboard) (MessageRef, error) {
	return r.record(ContentText, conversationID, text, kb)
}

func (r *Recorder) SendImage(_ context.Context, conversationID string, _ []byte, caption string, kb *Keyboard) (MessageRef, error) {
	return r.record(ContentImage, conversationID, caption, kb)
}

func (r *Recorder) DeleteMessage(_ context.Context, ref MessageRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, Sent{Kind: ContentDelete, Ref: ref})
	return nil
}

func (r *Recorder) record(kind, conversationID, text string, kb *Keyboard) (MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return MessageRef{}, r.Err
	}
	r.next++
	ref := MessageRef{ConversationID: conversationID, MessageID: strconv.Itoa(r.next)}
	r.sent = append(r.sent, Sent{Kind: kind, Ref: ref, Text: text, Keyboard: kb})
	return ref, nil
}

// Sent returns a copy of everything recorded so far.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Texts returns the text of every text and image message sent to conversationID.
func (r *Recorder) Texts(conversationID string) []string {
	var out []string
	for _, s := range r.Sent() {
		if s.Kind != ContentDelete && s.Ref.ConversationID == conversationID {
			out = append(out, s.Text)
		}
	}
	return out
}

// Last returns the last action sent to conversationID.
func (r *Recorder) Last(conversationID string) (Sent, bool) {
	sent := r.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].Ref.ConversationID == conversationID {
			return sent[i], true
		}
	}
	return Sent{}, false
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
