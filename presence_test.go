package chatlink

import (
	"context"
	mathrand "math/rand"
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestPresenceTracker(t *testing.T) {
	ctx := context.Background()
	channel := NewEventChannel(ctx, 32)
	defer channel.Close()

	presenceTracker := NewPresenceTracker(channel)
	defer presenceTracker.Close()

	assert.Equal(t, false, presenceTracker.IsOnline("u1"))
	assert.Equal(t, []UserId{}, presenceTracker.OnlineUsers())

	channel.dispatch(EventUserOnline, mustJson(t, &PresenceEvent{UserId: "u1"}))
	channel.dispatch(EventUserOnline, mustJson(t, &PresenceEvent{UserId: "u2"}))
	assert.Equal(t, true, presenceTracker.IsOnline("u1"))
	assert.Equal(t, true, presenceTracker.IsOnline("u2"))
	assert.Equal(t, []UserId{"u1", "u2"}, presenceTracker.OnlineUsers())

	// adding an already-present identity is a no-op
	channel.dispatch(EventUserOnline, mustJson(t, &PresenceEvent{UserId: "u1"}))
	assert.Equal(t, 2, presenceTracker.OnlineCount())

	channel.dispatch(EventUserOffline, mustJson(t, &PresenceEvent{UserId: "u1"}))
	assert.Equal(t, false, presenceTracker.IsOnline("u1"))
	assert.Equal(t, []UserId{"u2"}, presenceTracker.OnlineUsers())

	// removing an absent identity is a no-op
	channel.dispatch(EventUserOffline, mustJson(t, &PresenceEvent{UserId: "u1"}))
	channel.dispatch(EventUserOffline, mustJson(t, &PresenceEvent{UserId: "u3"}))
	assert.Equal(t, []UserId{"u2"}, presenceTracker.OnlineUsers())
}

// membership equals the net effect of applying each event in arrival
// order, for random event sequences
func TestPresenceTrackerNetEffect(t *testing.T) {
	ctx := context.Background()
	channel := NewEventChannel(ctx, 32)
	defer channel.Close()

	presenceTracker := NewPresenceTracker(channel)
	defer presenceTracker.Close()

	n := 1000
	k := 8

	expected := map[UserId]bool{}
	for i := 0; i < n; i += 1 {
		userId := UserId(fmt.Sprintf("u%d", mathrand.Intn(k)))
		if mathrand.Intn(2) == 0 {
			channel.dispatch(EventUserOnline, mustJson(t, &PresenceEvent{UserId: userId}))
			expected[userId] = true
		} else {
			channel.dispatch(EventUserOffline, mustJson(t, &PresenceEvent{UserId: userId}))
			delete(expected, userId)
		}
	}

	assert.Equal(t, len(expected), presenceTracker.OnlineCount())
	for userId, online := range expected {
		assert.Equal(t, online, presenceTracker.IsOnline(userId))
	}
}

func TestPresenceTrackerUnsubscribe(t *testing.T) {
	ctx := context.Background()
	channel := NewEventChannel(ctx, 32)
	defer channel.Close()

	presenceTracker := NewPresenceTracker(channel)
	presenceTracker.Close()

	channel.dispatch(EventUserOnline, mustJson(t, &PresenceEvent{UserId: "u1"}))
	assert.Equal(t, false, presenceTracker.IsOnline("u1"))
}
