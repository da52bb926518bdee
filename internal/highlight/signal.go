// Package highlight holds the single concept term that views should emphasize.
// It is a one-slot broadcast: setting it replaces the previous value and every
// watcher sees each change in order.
package highlight

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/events"
)

// Bus is the subset of *events.Bus the signal needs.
type Bus interface {
	Publish(topic string, payload any) error
	Subscribe(ctx context.Context, topics ...string) (<-chan events.Envelope, error)
}

// Update is one published change. Term is nil when nothing is highlighted;
// Cleared marks an explicit dismissal.
type Update struct {
	Term    *string `json:"term"`
	Cleared bool    `json:"cleared"`
	Seq     uint64  `json:"seq"`
}

// Signal is the highlight slot. The zero value is not usable; call New.
type Signal struct {
	mu   sync.Mutex
	term string
	set  bool
	seq  uint64
	bus  Bus
	log  *zap.Logger
}

// New creates an empty signal publishing on bus.
func New(bus Bus, log *zap.Logger) *Signal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Signal{bus: bus, log: log.Named("highlight")}
}

// Set replaces the highlighted term. An empty term means no highlight. Setting
// the same term again still publishes.
func (s *Signal) Set(term string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term, s.set = term, term != ""
	if s.set {
		s.log.Debug("concept highlighted", zap.String("term", term))
	} else {
		s.log.Debug("highlight cleared by empty term")
	}
	s.publish(false)
}

// Clear dismisses the highlight.
func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term, s.set = "", false
	s.log.Debug("highlight explicitly cleared")
	s.publish(true)
}

// Current returns the highlighted term, if any.
func (s *Signal) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term, s.set
}

// Snapshot returns the current value as an Update carrying the latest Seq.
func (s *Signal) Snapshot() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(false)
}

// Watch streams every later change until ctx is done.
func (s *Signal) Watch(ctx context.Context) (<-chan Update, error) {
	envs, err := s.bus.Subscribe(ctx, events.TopicHighlight)
	if err != nil {
		return nil, fmt.Errorf("watch highlight: %w", err)
	}
	out := make(chan Update)
	go func() {
		defer close(out)
		for env := range envs {
			var u Update
			if err := env.Decode(&u); err != nil {
				s.log.Warn("undecodable highlight event", zap.Error(err))
				continue
			}
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// publish must be called with mu held so sequence numbers leave in order.
func (s *Signal) publish(cleared bool) {
	s.seq++
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(events.TopicHighlight, s.update(cleared)); err != nil {
		s.log.Warn("failed to publish highlight", zap.Error(err))
	}
}

func (s *Signal) update(cleared bool) Update {
	u := Update{Cleared: cleared, Seq: s.seq}
	if s.set {
		term := s.term
		u.Term = &term
	}
	return u
}
