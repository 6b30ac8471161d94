// Package gateway delivers outbound text messages to chat platforms.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/signalbox/internal/metrics"
)

// DefaultTimeout bounds a single send when RouterOpts.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// ErrUnknownPlatform is returned for platforms with no registered sender.
var ErrUnknownPlatform = errors.New("gateway: unknown platform")

// Sender delivers text to one recipient on a single platform. The
// recipient is a phone number, chat ID or channel ID depending on the
// platform.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// Gateway is what the automation engine and the queue processor depend on.
type Gateway interface {
	Send(ctx context.Context, platform, to, text string) error
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Senders map[string]Sender
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

// Router dispatches sends to the sender registered for each platform and
// enforces the per-send timeout.
type Router struct {
	mu      sync.RWMutex
	senders map[string]Sender
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewRouter creates a Router. Platform names are case-insensitive.
func NewRouter(opts RouterOpts) *Router {
	r := &Router{
		senders: make(map[string]Sender, len(opts.Senders)),
		timeout: opts.Timeout,
		log:     opts.Logger,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	for p, s := range opts.Senders {
		r.senders[strings.ToLower(p)] = s
	}
	return r
}

// Register adds or replaces the sender for platform.
func (r *Router) Register(platform string, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[strings.ToLower(platform)] = s
}

// Platforms lists registered platform names in sorted order.
func (r *Router) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.senders))
	for p := range r.senders {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Send delivers text through platform's sender. The call returns within
// the router timeout even if the sender ignores its context.
func (r *Router) Send(ctx context.Context, platform, to, text string) error {
	platform = strings.ToLower(platform)
	r.mu.RLock()
	s, ok := r.senders[platform]
	r.mu.RUnlock()
	if !ok {
		metrics.ObserveSend(platform, false)
		return fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Send(ctx, to, text) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	metrics.ObserveSend(platform, err == nil)
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"platform": platform, "to": to}).Warn("gateway: send failed")
		return fmt.Errorf("gateway: send %s: %w", platform, err)
	}
	return nil
}

// Bool adapts g to a boolean success result.
func Bool(ctx context.Context, g Gateway, platform, to, text string) bool {
	return g.Send(ctx, platform, to, text) == nil
}
