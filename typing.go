package chatlink

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/golang/glog"
)

type TypingSettings struct {
	// quiet period after the last activity before a stop is emitted
	QuietPeriod time.Duration
}

func DefaultTypingSettings() *TypingSettings {
	return &TypingSettings{
		QuietPeriod: 1000 * time.Millisecond,
	}
}

type TypingArgs struct {
	RoomId string `json:"roomId"`
	UserId UserId `json:"userId"`
}

type PeerTypingEvent struct {
	UserId   UserId `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// per-recipient {idle, typing} state with a re-armed quiet timer
type typingState struct {
	gen   int
	timer *time.Timer
}

// derives typing start/stop transitions from raw keystroke activity.
//
// The first activity after idle emits a start immediately, not
// debounced. Every further activity re-arms the quiet timer; one timer
// is live per recipient at a time. When the timer elapses, or the input
// surface reports idle (e.g. the message was sent), a single stop is
// emitted. Many rapid keystrokes therefore yield exactly one start and
// one stop per burst.
//
// Incoming peer typing events update a plain map; the sender already
// debounced.
type TypingCoordinator struct {
	channel  *EventChannel
	userId   UserId
	settings *TypingSettings

	stateLock sync.Mutex
	outbound  map[UserId]*typingState
	// peer -> is typing now. ephemeral, reset on disconnect
	typingPeers map[UserId]bool
	closed      bool

	unsubs []func()
}

func NewTypingCoordinatorWithDefaults(channel *EventChannel, userId UserId) *TypingCoordinator {
	return NewTypingCoordinator(channel, userId, DefaultTypingSettings())
}

func NewTypingCoordinator(channel *EventChannel, userId UserId, settings *TypingSettings) *TypingCoordinator {
	typingCoordinator := &TypingCoordinator{
		channel:     channel,
		userId:      userId,
		settings:    settings,
		outbound:    map[UserId]*typingState{},
		typingPeers: map[UserId]bool{},
	}
	typingCoordinator.unsubs = append(
		typingCoordinator.unsubs,
		channel.On(EventPeerTyping, typingCoordinator.peerTyping),
		channel.On(EventDisconnect, typingCoordinator.disconnect),
	)
	return typingCoordinator
}

func typingRoomId(peerId UserId) string {
	return fmt.Sprintf("user:%s", peerId)
}

// called on every keystroke for the given recipient
func (self *TypingCoordinator) NotifyActivity(recipientId UserId) {
	if recipientId == "" {
		return
	}

	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	if state, ok := self.outbound[recipientId]; ok {
		// already typing. re-arm the quiet timer
		state.timer.Stop()
		state.gen += 1
		gen := state.gen
		state.timer = time.AfterFunc(self.settings.QuietPeriod, func() {
			self.quietElapsed(recipientId, gen)
		})
		self.stateLock.Unlock()
		return
	}
	state := &typingState{}
	state.timer = time.AfterFunc(self.settings.QuietPeriod, func() {
		self.quietElapsed(recipientId, 0)
	})
	self.outbound[recipientId] = state
	self.stateLock.Unlock()

	// the start must be instantaneous
	self.channel.Emit(EventTypingStart, &TypingArgs{
		RoomId: typingRoomId(recipientId),
		UserId: self.userId,
	})
	glog.V(2).Infof("[tc]start ->%s\n", recipientId)
}

// explicit idle, e.g. the message was sent or the input was cleared
func (self *TypingCoordinator) NotifyIdle(recipientId UserId) {
	self.stateLock.Lock()
	state, ok := self.outbound[recipientId]
	if !ok {
		self.stateLock.Unlock()
		return
	}
	state.timer.Stop()
	delete(self.outbound, recipientId)
	self.stateLock.Unlock()

	self.emitStop(recipientId)
}

func (self *TypingCoordinator) quietElapsed(recipientId UserId, gen int) {
	self.stateLock.Lock()
	state, ok := self.outbound[recipientId]
	if !ok || state.gen != gen {
		// re-armed or stopped while this timer was firing
		self.stateLock.Unlock()
		return
	}
	delete(self.outbound, recipientId)
	closed := self.closed
	self.stateLock.Unlock()

	if !closed {
		self.emitStop(recipientId)
	}
}

func (self *TypingCoordinator) emitStop(recipientId UserId) {
	self.channel.Emit(EventTypingStop, &TypingArgs{
		RoomId: typingRoomId(recipientId),
		UserId: self.userId,
	})
	glog.V(2).Infof("[tc]stop ->%s\n", recipientId)
}

func (self *TypingCoordinator) peerTyping(data json.RawMessage) {
	var event PeerTypingEvent
	if err := json.Unmarshal(data, &event); err != nil {
		glog.Infof("[tc]typing decode error = %s\n", err)
		return
	}
	if event.UserId == "" {
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if event.IsTyping {
		self.typingPeers[event.UserId] = true
	} else {
		delete(self.typingPeers, event.UserId)
	}
}

func (self *TypingCoordinator) disconnect(json.RawMessage) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	maps.Clear(self.typingPeers)
	for _, state := range self.outbound {
		state.timer.Stop()
	}
	maps.Clear(self.outbound)
}

func (self *TypingCoordinator) IsPeerTyping(peerId UserId) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.typingPeers[peerId]
}

func (self *TypingCoordinator) TypingPeers() []UserId {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	typingPeers := maps.Keys(self.typingPeers)
	slices.Sort(typingPeers)
	return typingPeers
}

// stops all timers without emitting. Timers must never fire against
// torn-down state
func (self *TypingCoordinator) Close() {
	self.stateLock.Lock()
	self.closed = true
	for _, state := range self.outbound {
		state.timer.Stop()
	}
	maps.Clear(self.outbound)
	maps.Clear(self.typingPeers)
	self.stateLock.Unlock()

	for _, unsub := range self.unsubs {
		unsub()
	}
}
