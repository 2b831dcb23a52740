package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sociosbot/sociosbot/internal/observability"
)

type echoAnswerer struct {
	sessions []string
}

func (a *echoAnswerer) Answer(ctx context.Context, question string) string {
	a.sessions = append(a.sessions, observability.SessionIDFromContext(ctx))
	return "respuesta: " + question
}

func TestSessionTwoTurnsThenReset(t *testing.T) {
	store := NewStore(StoreOptions{})
	session := store.Session("s1")
	answerer := &echoAnswerer{}

	session.Ask(context.Background(), answerer, "¿Cuántos socios hay?")
	session.Ask(context.Background(), answerer, "¿Y activos?")

	messages := session.Messages()
	require.Len(t, messages, 4)
	assert.Equal(t, []Role{RoleUser, RoleAssistant, RoleUser, RoleAssistant},
		[]Role{messages[0].Role, messages[1].Role, messages[2].Role, messages[3].Role})
	assert.Equal(t, "respuesta: ¿Y activos?", messages[3].Content)
	assert.Equal(t, []string{"s1", "s1"}, answerer.sessions)

	session.Reset()
	assert.Empty(t, session.Messages())

	session.Ask(context.Background(), answerer, "hola")
	messages = session.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "hola", messages[0].Content)
}

func TestHistoryMessagesReturnsCopy(t *testing.T) {
	var history History
	history.Append(RoleUser, "hola")

	messages := history.Messages()
	messages[0].Content = "cambiado"

	assert.Equal(t, "hola", history.Messages()[0].Content)
	assert.Equal(t, 1, history.Len())
	history.Reset()
	assert.Equal(t, 0, history.Len())
}

func TestHistoryTrimsOldestTurns(t *testing.T) {
	history := History{maxTurns: 2}
	for i := 1; i <= 3; i++ {
		history.Append(RoleUser, fmt.Sprintf("q%d", i))
		history.Append(RoleAssistant, fmt.Sprintf("a%d", i))
	}

	messages := history.Messages()
	require.Len(t, messages, 4)
	assert.Equal(t, "q2", messages[0].Content)
	assert.Equal(t, "a3", messages[3].Content)
}

func TestHistoryTrimStartsWithQuestion(t *testing.T) {
	history := History{maxTurns: 1}
	history.Append(RoleUser, "q1")
	history.Append(RoleAssistant, "a1")
	history.Append(RoleUser, "q2")

	messages := history.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, RoleUser, messages[0].Role)
	assert.Equal(t, "q2", messages[0].Content)

	history.Append(RoleAssistant, "a2")
	messages = history.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, []string{"q2", "a2"}, []string{messages[0].Content, messages[1].Content})
}

// blockingAnswerer answers once release is closed.
type blockingAnswerer struct {
	started chan struct{}
	release chan struct{}
}

func (a *blockingAnswerer) Answer(context.Context, string) string {
	close(a.started)
	<-a.release
	return "respuesta"
}

func TestSessionResetDuringTurnDropsItsAnswer(t *testing.T) {
	store := NewStore(StoreOptions{})
	session := store.Session("s1")
	answerer := &blockingAnswerer{started: make(chan struct{}), release: make(chan struct{})}

	done := make(chan string)
	go func() { done <- session.Ask(context.Background(), answerer, "pregunta") }()
	<-answerer.started
	session.Reset()
	close(answerer.release)
	assert.Equal(t, "respuesta", <-done)

	assert.Empty(t, session.Messages())
	session.Ask(context.Background(), &echoAnswerer{}, "hola")
	messages := session.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, RoleUser, messages[0].Role)
	assert.Equal(t, "hola", messages[0].Content)
}

func TestSessionTurnsRunOneAtATime(t *testing.T) {
	store := NewStore(StoreOptions{})
	session := store.Session("s1")
	first := &blockingAnswerer{started: make(chan struct{}), release: make(chan struct{})}

	done := make(chan struct{})
	go func() {
		session.Ask(context.Background(), first, "uno")
		close(done)
	}()
	<-first.started

	second := make(chan struct{})
	go func() {
		session.Ask(context.Background(), &echoAnswerer{}, "dos")
		close(second)
	}()
	select {
	case <-second:
		t.Fatal("second turn ran while the first was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(first.release)
	<-done
	<-second

	messages := session.Messages()
	require.Len(t, messages, 4)
	assert.Equal(t, []string{"uno", "respuesta", "dos", "respuesta: dos"},
		[]string{messages[0].Content, messages[1].Content, messages[2].Content, messages[3].Content})
}

func TestSessionQueuedTurnGivesUpWithContext(t *testing.T) {
	store := NewStore(StoreOptions{})
	session := store.Session("s1")
	first := &blockingAnswerer{started: make(chan struct{}), release: make(chan struct{})}

	done := make(chan struct{})
	go func() {
		session.Ask(context.Background(), first, "uno")
		close(done)
	}()
	<-first.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, MessageTurnBusy, session.Ask(ctx, &echoAnswerer{}, "dos"))

	close(first.release)
	<-done
	messages := session.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "uno", messages[0].Content)
	assert.Equal(t, "respuesta", messages[1].Content)
}

func TestStoreEvictsLeastRecentlyUsedSession(t *testing.T) {
	store := NewStore(StoreOptions{MaxSessions: 2})
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	store.Append("a", RoleUser, "uno")
	clock = clock.Add(time.Second)
	store.Append("b", RoleUser, "dos")
	clock = clock.Add(time.Second)
	store.Append("a", RoleAssistant, "respuesta")
	clock = clock.Add(time.Second)
	store.Append("c", RoleUser, "tres")

	assert.Equal(t, 2, store.Len())
	assert.Empty(t, store.Messages("b"))
	assert.Len(t, store.Messages("a"), 2)
	assert.Len(t, store.Messages("c"), 1)
}

func TestStoreExpiresIdleSessions(t *testing.T) {
	store := NewStore(StoreOptions{IdleTTL: time.Minute})
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	store.Append("viejo", RoleUser, "uno")
	clock = clock.Add(30 * time.Second)
	store.Append("nuevo", RoleUser, "dos")
	clock = clock.Add(45 * time.Second)

	assert.Empty(t, store.Messages("viejo"))
	assert.Len(t, store.Messages("nuevo"), 1)
	assert.Equal(t, 1, store.Len())
}

func TestStoreIsolatesSessions(t *testing.T) {
	store := NewStore(StoreOptions{MaxTurns: 10})
	store.Append("a", RoleUser, "uno")
	store.Append("b", RoleUser, "dos")
	store.Reset("a")

	assert.Empty(t, store.Messages("a"))
	assert.Len(t, store.Messages("b"), 1)
	assert.Equal(t, 1, store.Len())
	assert.NotNil(t, store.Messages("unknown"))
}

func TestStoreConcurrentAppends(t *testing.T) {
	store := NewStore(StoreOptions{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.Append("shared", RoleUser, fmt.Sprintf("q%d", i))
		}(i)
	}
	wg.Wait()
	assert.Len(t, store.Messages("shared"), 20)
}

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID(NewSessionID()))
	assert.NoError(t, ValidateSessionID("web:ana_01"))
	assert.Error(t, ValidateSessionID(""))
	assert.Error(t, ValidateSessionID("../etc"))
	assert.Error(t, ValidateSessionID("con espacio"))
}
