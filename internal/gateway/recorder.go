package gateway

import (
	"context"
	"sync"
	"time"
)

// Sent is one message captured by a Recorder.
type Sent struct {
	Platform string
	To       string
	Text     string
}

// Recorder implements Gateway and Sender for testing. It records every
// send and can be told to fail or stall.
type Recorder struct {
	mu    sync.Mutex
	sent  []Sent
	err   error
	delay time.Duration
	fail  map[string]error // keyed by recipient
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[string]error)}
}

// FailWith makes every subsequent send return err (nil clears it).
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// FailFor makes sends to one recipient return err.
func (r *Recorder) FailFor(to string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[to] = err
}

// Stall makes sends block for d or until their context ends.
func (r *Recorder) Stall(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// Send implements Gateway.
func (r *Recorder) Send(ctx context.Context, platform, to, text string) error {
	r.mu.Lock()
	delay := r.delay
	r.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if err, ok := r.fail[to]; ok {
		return err
	}
	r.sent = append(r.sent, Sent{Platform: platform, To: to, Text: text})
	return nil
}

// Sender returns a Sender view of r bound to platform.
func (r *Recorder) Sender(platform string) Sender {
	return platformSender{r: r, platform: platform}
}

// Sent returns a copy of everything delivered so far.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

type platformSender struct {
	r        *Recorder
	platform string
}

func (p platformSender) Send(ctx context.Context, to, text string) error {
	return p.r.Send(ctx, p.platform, to, text)
}
