// Package chat keeps the per-session conversation transcript.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sociosbot/sociosbot/internal/observability"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// History is an ordered transcript of role-tagged messages. The zero value
// is empty and ready to use; callers synchronize through Store.
type History struct {
	messages []Message
	maxTurns int
}

func (h *History) Append(role Role, content string) {
	h.messages = append(h.messages, Message{Role: role, Content: content, CreatedAt: time.Now().UTC()})
	h.trim()
}

// Messages returns a copy of the transcript.
func (h *History) Messages() []Message {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

func (h *History) Reset() {
	h.messages = nil
}

func (h *History) Len() int {
	return len(h.messages)
}

// trim keeps the newest maxTurns turns. A turn starts at a user message, so
// the cut always lands on one and no assistant reply is left without its
// question.
func (h *History) trim() {
	if h.maxTurns <= 0 {
		return
	}
	userMessages := 0
	for i := len(h.messages) - 1; i >= 0; i-- {
		if h.messages[i].Role != RoleUser {
			continue
		}
		userMessages++
		if userMessages == h.maxTurns {
			if i > 0 {
				h.messages = append([]Message(nil), h.messages[i:]...)
			}
			return
		}
	}
}

// Answerer turns a question into a reply. It must not fail.
type Answerer interface {
	Answer(ctx context.Context, question string) string
}

const DefaultMaxSessions = 10000

type StoreOptions struct {
	// MaxTurns bounds each transcript; 0 keeps every turn.
	MaxTurns int
	// MaxSessions bounds the number of live sessions. When a new session
	// would exceed it the least recently used one is dropped.
	MaxSessions int
	// IdleTTL expires sessions untouched for longer; 0 disables expiry.
	IdleTTL time.Duration
}

// MessageTurnBusy answers a question that gave up waiting for the turn
// already running on its session.
const MessageTurnBusy = "Error: Hay otra consulta en curso en esta conversación. Intente de nuevo."

// session is one live transcript. turn holds a token while an Ask runs.
type session struct {
	history  History
	turn     chan struct{}
	lastUsed time.Time
}

// Store maps session ids to histories.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session
	opts     StoreOptions
	now      func() time.Time
}

func NewStore(opts StoreOptions) *Store {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	return &Store{sessions: make(map[string]*session), opts: opts, now: time.Now}
}

// NewSessionID returns a fresh random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

func ValidateSessionID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if len(id) > 128 {
		return fmt.Errorf("session id is too long")
	}
	for _, r := range id {
		if !(r == '-' || r == '_' || r == '.' || r == ':' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return fmt.Errorf("session id contains invalid character %q", r)
		}
	}
	return nil
}

// Messages returns a copy of the session transcript; unknown sessions are
// empty.
func (s *Store) Messages(id string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveLocked(id)
	if !ok {
		return []Message{}
	}
	return entry.history.Messages()
}

func (s *Store) Append(id string, role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryLocked(id).history.Append(role, content)
}

// Reset clears the session transcript. A turn still in flight for the session
// does not record its answer afterwards.
func (s *Store) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	observability.SetActiveSessions(len(s.sessions))
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return len(s.sessions)
}

// liveLocked returns the entry for id unless it has expired.
func (s *Store) liveLocked(id string) (*session, bool) {
	entry, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if s.expired(entry, s.now()) {
		delete(s.sessions, id)
		observability.SetActiveSessions(len(s.sessions))
		return nil, false
	}
	return entry, true
}

func (s *Store) entryLocked(id string) *session {
	now := s.now()
	entry, ok := s.liveLocked(id)
	if !ok {
		s.expireLocked()
		if len(s.sessions) >= s.opts.MaxSessions {
			s.evictOldestLocked()
		}
		entry = &session{history: History{maxTurns: s.opts.MaxTurns}, turn: make(chan struct{}, 1)}
		s.sessions[id] = entry
		observability.SetActiveSessions(len(s.sessions))
	}
	entry.lastUsed = now
	return entry
}

func (s *Store) expired(entry *session, now time.Time) bool {
	return s.opts.IdleTTL > 0 && now.Sub(entry.lastUsed) > s.opts.IdleTTL
}

func (s *Store) expireLocked() {
	if s.opts.IdleTTL <= 0 {
		return
	}
	now := s.now()
	for id, entry := range s.sessions {
		if s.expired(entry, now) {
			delete(s.sessions, id)
		}
	}
	observability.SetActiveSessions(len(s.sessions))
}

func (s *Store) evictOldestLocked() {
	oldestID := ""
	var oldest time.Time
	for id, entry := range s.sessions {
		if oldestID == "" || entry.lastUsed.Before(oldest) {
			oldestID, oldest = id, entry.lastUsed
		}
	}
	if oldestID != "" {
		delete(s.sessions, oldestID)
	}
}

// beginTurn waits for any turn in flight on id, then records question. The
// caller releases the returned entry's turn with endTurn.
func (s *Store) beginTurn(ctx context.Context, id, question string) (*session, error) {
	for {
		s.mu.Lock()
		entry := s.entryLocked(id)
		s.mu.Unlock()

		select {
		case entry.turn <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		s.mu.Lock()
		if current, ok := s.sessions[id]; ok && current == entry {
			entry.history.Append(RoleUser, question)
			entry.lastUsed = s.now()
			s.mu.Unlock()
			return entry, nil
		}
		// Reset or evicted while waiting.
		s.mu.Unlock()
		endTurn(entry)
	}
}

func endTurn(entry *session) {
	<-entry.turn
}

// finishTurn records answer unless the session was reset or evicted since
// beginTurn.
func (s *Store) finishTurn(id string, entry *session, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.sessions[id]; !ok || current != entry {
		return
	}
	entry.history.Append(RoleAssistant, answer)
	entry.lastUsed = s.now()
}

// Session binds a store to one session id.
type Session struct {
	store *Store
	id    string
}

func (s *Store) Session(id string) *Session {
	return &Session{store: s, id: id}
}

func (s *Session) ID() string {
	return s.id
}

// Ask runs one turn: the question is recorded, answered and the answer
// recorded. Turns on the same session run one at a time; if ctx ends while
// waiting for the previous one, MessageTurnBusy is returned and nothing is
// recorded.
func (s *Session) Ask(ctx context.Context, answerer Answerer, question string) string {
	entry, err := s.store.beginTurn(ctx, s.id, question)
	if err != nil {
		return MessageTurnBusy
	}
	defer endTurn(entry)
	answer := answerer.Answer(observability.ContextWithSessionID(ctx, s.id), question)
	s.store.finishTurn(s.id, entry, answer)
	return answer
}

func (s *Session) Messages() []Message {
	return s.store.Messages(s.id)
}

func (s *Session) Reset() {
	s.store.Reset(s.id)
}
