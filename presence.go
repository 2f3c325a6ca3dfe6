package chatlink

import (
	"encoding/json"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/golang/glog"
)

type PresenceEvent struct {
	UserId UserId `json:"userId"`
}

// maintains the set of currently-online peers from explicit
// online/offline events. Membership never changes for any other reason:
// no heartbeat, no inference from message activity. Add and remove are
// idempotent, so duplicate or late events have zero net effect.
//
// The set is rebuilt from empty per connection. Construct one tracker
// per channel.
type PresenceTracker struct {
	stateLock   sync.Mutex
	onlineUsers map[UserId]bool

	unsubs []func()
}

func NewPresenceTracker(channel *EventChannel) *PresenceTracker {
	presenceTracker := &PresenceTracker{
		onlineUsers: map[UserId]bool{},
	}
	presenceTracker.unsubs = append(
		presenceTracker.unsubs,
		channel.On(EventUserOnline, presenceTracker.online),
		channel.On(EventUserOffline, presenceTracker.offline),
	)
	return presenceTracker
}

func (self *PresenceTracker) online(data json.RawMessage) {
	var event PresenceEvent
	if err := json.Unmarshal(data, &event); err != nil {
		glog.Infof("[pt]online decode error = %s\n", err)
		return
	}
	if event.UserId == "" {
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.onlineUsers[event.UserId] = true
}

func (self *PresenceTracker) offline(data json.RawMessage) {
	var event PresenceEvent
	if err := json.Unmarshal(data, &event); err != nil {
		glog.Infof("[pt]offline decode error = %s\n", err)
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	delete(self.onlineUsers, event.UserId)
}

func (self *PresenceTracker) IsOnline(userId UserId) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.onlineUsers[userId]
}

// ordered snapshot of the presence set
func (self *PresenceTracker) OnlineUsers() []UserId {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	onlineUsers := maps.Keys(self.onlineUsers)
	slices.Sort(onlineUsers)
	return onlineUsers
}

func (self *PresenceTracker) OnlineCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.onlineUsers)
}

func (self *PresenceTracker) Close() {
	for _, unsub := range self.unsubs {
		unsub()
	}
}
