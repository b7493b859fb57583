// Package driver provides a deterministic, in-process domain.Driver
// implementation. The core treats the real driver as opaque (§6); this stub
// stands in for it in tests and in cmd/scheduler's dev wiring, where no
// browser-automation backend is available.
package driver

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/relaygrid/fleetsched/internal/domain"
)

// Stub implements domain.Driver by classifying chat refs deterministically
// from a prefix table, so integration tests can exercise every branch of
// the classifier without a real browser session. Unmapped chat refs always
// succeed.
type Stub struct {
	mu       sync.Mutex
	sessions map[string]*stubSession
	opened   atomic.Int64
	closed   atomic.Int64

	// Outcomes maps a chat_ref prefix to the Outcome its SendAction should
	// return. When several prefixes match, the longest one wins.
	Outcomes map[string]domain.Outcome
}

type stubSession struct {
	profileID string
	proxyURL  string
}

// NewStub constructs a Stub with no configured failure prefixes: every
// SendAction call succeeds.
func NewStub() *Stub {
	return &Stub{
		sessions: make(map[string]*stubSession),
		Outcomes: make(map[string]domain.Outcome),
	}
}

// Open returns an opaque Session bound to profile and proxyURL. It never
// fails; a real Driver's launch failures are surfaced by the Worker's LAUNCH
// state via a returned error from the real implementation, not modeled here.
func (s *Stub) Open(_ domain.Context, profile domain.Profile, proxyURL string) (domain.Session, error) {
	s.opened.Add(1)
	sess := &stubSession{profileID: profile.ProfileID, proxyURL: proxyURL}
	s.mu.Lock()
	s.sessions[fmt.Sprintf("%p", sess)] = sess
	s.mu.Unlock()
	return sess, nil
}

// SendAction looks up chatRef against the configured prefix table and
// returns the matching Outcome, or OutcomeSuccess if nothing matches.
func (s *Stub) SendAction(_ domain.Context, session domain.Session, chatRef, _ string) (domain.Outcome, error) {
	sess, ok := session.(*stubSession)
	if !ok || sess == nil {
		return domain.Outcome{}, fmt.Errorf("op=driver.Stub.SendAction: %w: not a stub session", domain.ErrInvalidArgument)
	}
	best, bestLen := domain.Outcome{}, -1
	for prefix, outcome := range s.Outcomes {
		if strings.HasPrefix(chatRef, prefix) && len(prefix) > bestLen {
			best, bestLen = outcome, len(prefix)
		}
	}
	if bestLen >= 0 {
		return best, nil
	}
	return domain.Outcome{Kind: domain.OutcomeSuccess}, nil
}

// Close releases the session. Idempotent: closing twice is a no-op.
func (s *Stub) Close(_ domain.Context, session domain.Session) error {
	sess, ok := session.(*stubSession)
	if !ok || sess == nil {
		return fmt.Errorf("op=driver.Stub.Close: %w: not a stub session", domain.ErrInvalidArgument)
	}
	k := fmt.Sprintf("%p", sess)
	s.mu.Lock()
	_, present := s.sessions[k]
	delete(s.sessions, k)
	s.mu.Unlock()
	if present {
		s.closed.Add(1)
	}
	return nil
}

// OpenCount reports how many sessions have been opened, for test assertions.
func (s *Stub) OpenCount() int64 { return s.opened.Load() }

// CloseCount reports how many sessions have been closed, for test assertions.
func (s *Stub) CloseCount() int64 { return s.closed.Load() }

var _ domain.Driver = (*Stub)(nil)
