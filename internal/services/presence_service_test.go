package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncflow/server/internal/models"
)

// presenceObserver is a hub client standing in for another device of the
// same user, subscribed to the presence channel.
type presenceObserver struct {
	client *WSClient
}

func newPresenceObserver(t *testing.T, hub *Hub, userID, deviceID string) *presenceObserver {
	t.Helper()
	client := hub.NewClient("conn-"+deviceID, userID, deviceID, nil)
	hub.Register(client)
	require.True(t, hub.Subscribe(client, ChannelPresence))
	return &presenceObserver{client: client}
}

// next waits for one presence frame, failing the test on timeout.
func (o *presenceObserver) next(t *testing.T, timeout time.Duration) WSMessage {
	t.Helper()
	select {
	case raw := <-o.client.Send:
		var msg WSMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a presence broadcast")
		return WSMessage{}
	}
}

// silent asserts nothing arrives within the window.
func (o *presenceObserver) silent(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case raw := <-o.client.Send:
		t.Fatalf("unexpected broadcast: %s", raw)
	case <-time.After(window):
	}
}

func typingData(t *testing.T, msg WSMessage) models.TypingState {
	t.Helper()
	raw, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	var state models.TypingState
	require.NoError(t, json.Unmarshal(raw, &state))
	return state
}

func TestPresenceService_Typing(t *testing.T) {
	const userID = "user-1"
	const typist = "device-phone"

	newFixture := func(t *testing.T, opts PresenceOptions) (*PresenceService, *presenceObserver) {
		t.Helper()
		hub := newTestHub()
		svc := NewPresenceService(hub, opts)
		t.Cleanup(svc.Close)
		return svc, newPresenceObserver(t, hub, userID, "device-laptop")
	}

	t.Run("a sustained start broadcasts after the debounce", func(t *testing.T) {
		svc, observer := newFixture(t, PresenceOptions{
			TypingDebounce: 10 * time.Millisecond,
			TypingTTL:      time.Second,
		})

		require.NoError(t, svc.StartTyping(userID, typist, "conv-1"))

		msg := observer.next(t, time.Second)
		assert.Equal(t, WSTypeTyping, msg.Type)
		state := typingData(t, msg)
		assert.True(t, state.Typing)
		assert.Equal(t, "conv-1", state.ConversationID)
		assert.Equal(t, typist, state.DeviceID)
	})

	t.Run("stopping inside the debounce window broadcasts nothing", func(t *testing.T) {
		svc, observer := newFixture(t, PresenceOptions{
			TypingDebounce: 50 * time.Millisecond,
			TypingTTL:      time.Second,
		})

		require.NoError(t, svc.StartTyping(userID, typist, "conv-1"))
		require.NoError(t, svc.StopTyping(userID, typist, "conv-1"))

		observer.silent(t, 150*time.Millisecond)
	})

	t.Run("an explicit stop broadcasts typing false", func(t *testing.T) {
		svc, observer := newFixture(t, PresenceOptions{
			TypingDebounce: 5 * time.Millisecond,
			TypingTTL:      time.Minute,
		})

		require.NoError(t, svc.StartTyping(userID, typist, "conv-1"))
		start := observer.next(t, time.Second)
		assert.True(t, typingData(t, start).Typing)

		require.NoError(t, svc.StopTyping(userID, typist, "conv-1"))
		stop := observer.next(t, time.Second)
		assert.False(t, typingData(t, stop).Typing)
	})

	t.Run("the TTL clears an indicator whose device went silent", func(t *testing.T) {
		svc, observer := newFixture(t, PresenceOptions{
			TypingDebounce: 5 * time.Millisecond,
			TypingTTL:      40 * time.Millisecond,
		})

		require.NoError(t, svc.StartTyping(userID, typist, "conv-1"))
		start := observer.next(t, time.Second)
		assert.True(t, typingData(t, start).Typing)

		expiry := observer.next(t, time.Second)
		assert.False(t, typingData(t, expiry).Typing)
	})

	t.Run("a missing conversation id is rejected", func(t *testing.T) {
		svc, _ := newFixture(t, PresenceOptions{})
		assert.ErrorIs(t, svc.StartTyping(userID, typist, ""), models.ErrMissingConversation)
		assert.ErrorIs(t, svc.StopTyping(userID, typist, ""), models.ErrMissingConversation)
	})
}

func TestPresenceService_Continuity(t *testing.T) {
	const userID = "user-1"
	const deviceID = "device-phone"

	newFixture := func(t *testing.T) (*PresenceService, *presenceObserver) {
		t.Helper()
		hub := newTestHub()
		svc := NewPresenceService(hub, PresenceOptions{ContinuityInterval: 10 * time.Millisecond})
		t.Cleanup(svc.Close)
		return svc, newPresenceObserver(t, hub, userID, "device-laptop")
	}

	t.Run("an update broadcasts and becomes readable", func(t *testing.T) {
		svc, observer := newFixture(t)

		require.NoError(t, svc.UpdateContinuity(userID, deviceID, "conv-1", "draft text"))

		msg := observer.next(t, time.Second)
		assert.Equal(t, WSTypeContinuity, msg.Type)

		state := svc.GetContinuity(userID)
		require.NotNil(t, state)
		assert.Equal(t, "conv-1", state.ConversationID)
		assert.Equal(t, "draft text", state.Draft)
		assert.Equal(t, deviceID, state.DeviceID)
	})

	t.Run("an identical payload is suppressed", func(t *testing.T) {
		svc, observer := newFixture(t)

		require.NoError(t, svc.UpdateContinuity(userID, deviceID, "conv-1", "same"))
		observer.next(t, time.Second)

		time.Sleep(20 * time.Millisecond) // past the throttle, so only the hash gate applies
		require.NoError(t, svc.UpdateContinuity(userID, deviceID, "conv-1", "same"))
		observer.silent(t, 100*time.Millisecond)
	})

	t.Run("a changed draft broadcasts again", func(t *testing.T) {
		svc, observer := newFixture(t)

		require.NoError(t, svc.UpdateContinuity(userID, deviceID, "conv-1", "first"))
		observer.next(t, time.Second)

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, svc.UpdateContinuity(userID, deviceID, "conv-1", "second"))
		msg := observer.next(t, time.Second)
		assert.Equal(t, WSTypeContinuity, msg.Type)

		state := svc.GetContinuity(userID)
		require.NotNil(t, state)
		assert.Equal(t, "second", state.Draft)
	})

	t.Run("updates inside the throttle window are dropped", func(t *testing.T) {
		hub := newTestHub()
		svc := NewPresenceService(hub, PresenceOptions{ContinuityInterval: time.Minute})
		t.Cleanup(svc.Close)
		observer := newPresenceObserver(t, hub, userID, "device-laptop")

		require.NoError(t, svc.UpdateContinuity(userID, deviceID, "conv-1", "first"))
		observer.next(t, time.Second)

		require.NoError(t, svc.UpdateContinuity(userID, deviceID, "conv-1", "second"))
		observer.silent(t, 100*time.Millisecond)

		// The dropped update never became the stored state either.
		state := svc.GetContinuity(userID)
		require.NotNil(t, state)
		assert.Equal(t, "first", state.Draft)
	})

	t.Run("unknown users have no continuity state", func(t *testing.T) {
		svc, _ := newFixture(t)
		assert.Nil(t, svc.GetContinuity("nobody"))
	})

	t.Run("a missing conversation id is rejected", func(t *testing.T) {
		svc, _ := newFixture(t)
		assert.ErrorIs(t, svc.UpdateContinuity(userID, deviceID, "", ""), models.ErrMissingConversation)
	})
}

func TestPresenceService_ForgetDevice(t *testing.T) {
	const userID = "user-1"
	const deviceID = "device-phone"

	t.Run("clears typing and continuity for the removed device", func(t *testing.T) {
		hub := newTestHub()
		svc := NewPresenceService(hub, PresenceOptions{
			TypingDebounce: 5 * time.Millisecond,
			TypingTTL:      time.Minute,
		})
		t.Cleanup(svc.Close)
		observer := newPresenceObserver(t, hub, userID, "device-laptop")

		require.NoError(t, svc.StartTyping(userID, deviceID, "conv-1"))
		observer.next(t, time.Second)
		require.NoError(t, svc.UpdateContinuity(userID, deviceID, "conv-1", "draft"))
		observer.next(t, time.Second)

		svc.ForgetDevice(userID, deviceID)

		stop := observer.next(t, time.Second)
		assert.Equal(t, WSTypeTyping, stop.Type)
		assert.False(t, typingData(t, stop).Typing)
		assert.Nil(t, svc.GetContinuity(userID))
	})
}
