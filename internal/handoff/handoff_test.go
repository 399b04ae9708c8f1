package handoff

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MegaGrindStone/emofelix-web/internal/models"
)

func TestMailbox(t *testing.T) {
	var mb Mailbox[int]

	_, ok := mb.TryReceive()
	assert.False(t, ok)

	mb.Send(1)
	mb.Send(2)

	v, ok := mb.Peek()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = mb.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 2, v, "second send overwrites the first")

	_, ok = mb.TryReceive()
	assert.False(t, ok)
}

func TestMailboxConcurrentReceive(t *testing.T) {
	var mb Mailbox[string]
	mb.Send("once")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		received int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := mb.TryReceive(); ok {
				mu.Lock()
				received++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, received)
}

func TestStoreConsumeOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemory(0), "tab-1", 3)

	prefs := models.CallPreferences{
		Mood:               models.MoodHappy,
		Language:           "French",
		Topic:              "Dreams & Goals",
		AdditionalDetails:  "I got the job!\nCan't wait to tell you \"everything\"",
		CallType:           models.CallTypeChat,
		SendAsFirstMessage: true,
	}
	require.NoError(t, s.SendPreferences(ctx, prefs))

	var got models.CallPreferences
	require.NoError(t, s.Consume(ctx, KeyCallPreferences, &got))
	assert.Equal(t, prefs, got)

	err := s.Consume(ctx, KeyCallPreferences, &got)
	assert.ErrorIs(t, err, ErrAbsent)
}

func TestStoreReadDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemory(0), "tab-1", 3)

	require.NoError(t, s.SendGreeting(ctx, "Hi sweetie"))

	var g string
	require.NoError(t, s.Read(ctx, KeyInitialGreeting, &g))
	require.NoError(t, s.Read(ctx, KeyInitialGreeting, &g))
	require.NoError(t, s.Consume(ctx, KeyInitialGreeting, &g))
	assert.Equal(t, "Hi sweetie", g)
	assert.ErrorIs(t, s.Read(ctx, KeyInitialGreeting, &g), ErrAbsent)
}

func TestStoreSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(0)
	a := NewStore(mem, "tab-a", 3)
	b := NewStore(mem, "tab-b", 3)

	require.NoError(t, a.SendGreeting(ctx, "for a"))

	var g string
	assert.ErrorIs(t, b.Consume(ctx, KeyInitialGreeting, &g), ErrAbsent)
	require.NoError(t, a.Consume(ctx, KeyInitialGreeting, &g))
	assert.Equal(t, "for a", g)
}

func TestStoreRelationsAreIsolated(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(0)
	mom := NewStore(mem, "tab-1", 3)
	dad := NewStore(mem, "tab-1", 5)

	prefs := models.CallPreferences{Mood: models.MoodHappy, Language: "English", Topic: "General Chat", CallType: models.CallTypeChat}
	require.NoError(t, mom.SendPreferences(ctx, prefs))
	require.NoError(t, mom.SendGreeting(ctx, "Hi sweetie, Mom here"))

	h, err := dad.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, h.Preferences)
	assert.Empty(t, h.Greeting)

	h, err = mom.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, h.Preferences)
	assert.Equal(t, "Hi sweetie, Mom here", h.Greeting)
}

func TestStoreClear(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemory(0), "tab-1", 3)

	require.NoError(t, s.SendGreeting(ctx, "So glad you're joyful!"))
	require.NoError(t, s.Clear(ctx, KeyInitialGreeting, KeyDirectResponse))

	var g string
	assert.ErrorIs(t, s.Consume(ctx, KeyInitialGreeting, &g), ErrAbsent)
}

func TestStoreReceive(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemory(0), "tab-1", 3)

	h, err := s.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, h.Preferences)
	assert.Empty(t, h.Greeting)

	prefs := models.CallPreferences{Mood: models.MoodSad, Language: "English", Topic: "Emotional Support", CallType: models.CallTypeChat}
	require.NoError(t, s.SendPreferences(ctx, prefs))
	require.NoError(t, s.SendDirectResponse(ctx, "I'm here for you."))

	h, err = s.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, h.Preferences)
	assert.Equal(t, prefs, *h.Preferences)
	assert.Equal(t, "I'm here for you.", h.DirectResponse)

	h, err = s.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, h.Preferences)
	assert.Empty(t, h.DirectResponse)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mem := NewMemory(time.Minute)
	mem.now = func() time.Time { return now }

	require.NoError(t, mem.Put(ctx, "k", "v"))
	v, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	now = now.Add(2 * time.Minute)
	_, err = mem.Take(ctx, "k")
	assert.ErrorIs(t, err, ErrAbsent)

	require.NoError(t, mem.Put(ctx, "k", "v"))
	now = now.Add(2 * time.Minute)
	_, err = mem.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrAbsent)
	assert.Zero(t, mem.len(), "expired slot is reclaimed")
}

func TestMemoryTakeReclaimsSlot(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(0)
	s := NewStore(mem, "tab-1", 3)

	require.NoError(t, s.SendGreeting(ctx, "hello"))
	require.Equal(t, 1, mem.len())

	_, err := s.Receive(ctx)
	require.NoError(t, err)
	assert.Zero(t, mem.len())
}

func TestMemoryForget(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory(0)
	require.NoError(t, mem.Put(ctx, "tab-a:x", "1"))
	require.NoError(t, mem.Put(ctx, "tab-b:x", "2"))

	mem.Forget("tab-a")

	_, err := mem.Get(ctx, "tab-a:x")
	assert.ErrorIs(t, err, ErrAbsent)
	v, err := mem.Get(ctx, "tab-b:x")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}
