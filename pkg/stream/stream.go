// Package stream tracks incremental onboarding and verification sessions.
//
// A Manager holds at most one session per instance key. A session moves
// Idle -> Active on Start, Active -> Completed when a Feed yields the final
// result, and is removed by Finish from either state:
//
//	Start  ->  Active --Feed(result)--> Completed
//	             |                         |
//	           Finish                    Finish (cached result)
//
// Managers do no locking of engines. Callers run every method while holding
// the instance's registry token, which also orders the calls of one key.
package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frymanofer/enginehub/pkg/engine"
	"github.com/frymanofer/enginehub/pkg/metrics"
)

var (
	// ErrSessionAlreadyActive is returned by Start while a session is Active.
	ErrSessionAlreadyActive = errors.New("stream: session already active")

	// ErrSessionNotStarted is returned by Feed and Finish without a usable
	// session.
	ErrSessionNotStarted = errors.New("stream: session not started")
)

// State is the lifecycle state of a session.
type State int

const (
	Idle State = iota
	Active
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Opener opens an engine stream for a new session.
type Opener[R any] func(eng engine.Engine) (engine.Stream[R], error)

// Info describes a session.
type Info struct {
	ID      string    `json:"id" yaml:"id"`
	Key     string    `json:"key" yaml:"key"`
	Kind    string    `json:"kind" yaml:"kind"`
	State   State     `json:"state" yaml:"state"`
	Started time.Time `json:"started" yaml:"started"`
	Blocks  int       `json:"blocks" yaml:"blocks"`
	Samples int       `json:"samples" yaml:"samples"`
}

// Config configures a Manager.
type Config struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Manager keeps the sessions of one stream kind.
type Manager[R any] struct {
	kind   string
	open   Opener[R]
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session[R]
}

type session[R any] struct {
	info   Info
	stream engine.Stream[R]
	result *R
}

// NewManager creates a Manager for sessions of kind opened by open.
func NewManager[R any](kind string, open Opener[R], cfg Config) *Manager[R] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager[R]{
		kind:     kind,
		open:     open,
		cfg:      cfg,
		logger:   logger.With("stream", kind),
		sessions: make(map[string]*session[R]),
	}
}

// Kind returns the stream kind name.
func (m *Manager[R]) Kind() string { return m.kind }

func (m *Manager[R]) get(key string) *session[R] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[key]
}

func (m *Manager[R]) put(key string, s *session[R]) {
	m.mu.Lock()
	_, existed := m.sessions[key]
	m.sessions[key] = s
	m.mu.Unlock()
	if !existed {
		m.cfg.Metrics.SessionDelta(m.kind, 1)
	}
}

func (m *Manager[R]) remove(key string) *session[R] {
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if ok {
		m.cfg.Metrics.SessionDelta(m.kind, -1)
	}
	return s
}

// Start opens a session for key on eng. An Active session fails with
// ErrSessionAlreadyActive; a Completed one is replaced.
func (m *Manager[R]) Start(key string, eng engine.Engine) (Info, error) {
	if s := m.get(key); s != nil && s.info.State == Active {
		return s.info, fmt.Errorf("stream: %s %q: %w", m.kind, key, ErrSessionAlreadyActive)
	}
	st, err := m.open(eng)
	if err != nil {
		return Info{}, err
	}
	s := &session[R]{
		info: Info{
			ID:      uuid.NewString(),
			Key:     key,
			Kind:    m.kind,
			State:   Active,
			Started: time.Now(),
		},
		stream: st,
	}
	m.put(key, s)
	m.logger.Debug("stream: session started", "key", key, "session", s.info.ID)
	return s.info, nil
}

// Feed passes block to the Active session of key. A non-nil result completes
// the session. An engine failure leaves the session Active.
func (m *Manager[R]) Feed(key string, block []int16) (*R, error) {
	s := m.get(key)
	if s == nil || s.info.State != Active {
		return nil, fmt.Errorf("stream: %s %q: %w", m.kind, key, ErrSessionNotStarted)
	}
	if len(block) == 0 {
		return nil, fmt.Errorf("stream: empty audio block: %w", engine.ErrInvalidArgument)
	}
	res, err := s.stream.Feed(block)
	if err != nil {
		return nil, engine.Wrap(m.kind+"_feed", err)
	}
	s.info.Blocks++
	s.info.Samples += len(block)
	if res != nil {
		s.result = res
		s.info.State = Completed
		m.logger.Debug("stream: session completed", "key", key, "session", s.info.ID, "blocks", s.info.Blocks)
	}
	return res, nil
}

// Finish ends the session of key and removes it whatever the outcome. An
// Active session is flushed through the engine and may yield nil; a
// Completed session returns its cached result without an engine call.
func (m *Manager[R]) Finish(key string) (*R, error) {
	s := m.remove(key)
	if s == nil {
		return nil, fmt.Errorf("stream: %s %q: %w", m.kind, key, ErrSessionNotStarted)
	}
	if s.info.State == Completed {
		return s.result, nil
	}
	res, err := s.stream.Finish()
	if err != nil {
		return nil, engine.Wrap(m.kind+"_finish", err)
	}
	m.logger.Debug("stream: session finished", "key", key, "session", s.info.ID, "result", res != nil)
	return res, nil
}

// Drop discards the session of key, flushing an Active engine stream on a
// best effort basis. It is used when the instance goes away.
func (m *Manager[R]) Drop(key string) {
	s := m.remove(key)
	if s == nil || s.info.State != Active {
		return
	}
	if _, err := s.stream.Finish(); err != nil {
		m.logger.Warn("stream: flush on drop failed", "key", key, "error", err)
	}
}

// Get returns the session info of key.
func (m *Manager[R]) Get(key string) (Info, bool) {
	s := m.get(key)
	if s == nil {
		return Info{Key: key, Kind: m.kind, State: Idle}, false
	}
	return s.info, true
}

// Active reports whether key has an Active session.
func (m *Manager[R]) Active(key string) bool {
	s := m.get(key)
	return s != nil && s.info.State == Active
}

// Len returns the number of sessions held.
func (m *Manager[R]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// OpenOnboarding opens onboarding streams on engines implementing
// engine.Enroller.
func OpenOnboarding(eng engine.Engine) (engine.Stream[engine.OnboardingResult], error) {
	e, ok := eng.(engine.Enroller)
	if !ok {
		return nil, fmt.Errorf("stream: onboarding: %w", engine.ErrUnsupported)
	}
	st, err := e.StartOnboarding()
	if err != nil {
		return nil, engine.Wrap("start_onboarding", err)
	}
	return st, nil
}

// OpenVerification opens verification streams on engines implementing
// engine.Verifier.
func OpenVerification(eng engine.Engine) (engine.Stream[engine.VerificationResult], error) {
	v, ok := eng.(engine.Verifier)
	if !ok {
		return nil, fmt.Errorf("stream: verification: %w", engine.ErrUnsupported)
	}
	st, err := v.StartVerification()
	if err != nil {
		return nil, engine.Wrap("start_verification", err)
	}
	return st, nil
}
