package chatlink

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/golang/glog"
)

// event names on the channel, mirroring the remote messaging service
const (
	EventUserJoin       = "user:join"
	EventUserLeave      = "user:leave"
	EventUserOnline     = "user:online"
	EventUserOffline    = "user:offline"
	EventMessageSend    = "message:send"
	EventMessageReceive = "message:receive"
	// sent-confirmation for an optimistic send
	EventMessageSent = "message:sent"
	// outbound: mark read command. inbound: read-confirmation
	EventMessageRead = "message:read"
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
	EventPeerTyping  = "user:typing"
	// synthetic, dispatched locally when the transport drops
	EventDisconnect = "disconnect"
)

// one json object per transport message
type ChannelEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type EventFunction func(data json.RawMessage)

// the single bidirectional event stream between this client and the
// remote messaging service. Only the connection manager opens or closes
// a channel; every other component just subscribes and emits.
//
// Inbound events are dispatched in arrival order on a single goroutine,
// and each subscriber callback runs to completion before the next event
// is dispatched. Emits against a closed channel are no-ops so that a
// transport drop never loses caller state.
type EventChannel struct {
	ctx    context.Context
	cancel context.CancelFunc

	sendBuffer chan *ChannelEvent

	stateLock   sync.Mutex
	subscribers map[string]*CallbackList[EventFunction]
	closed      bool
}

func NewEventChannel(ctx context.Context, sendBufferSize int) *EventChannel {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &EventChannel{
		ctx:         cancelCtx,
		cancel:      cancel,
		sendBuffer:  make(chan *ChannelEvent, sendBufferSize),
		subscribers: map[string]*CallbackList[EventFunction]{},
	}
}

// subscribe to a named event. The returned function removes the
// subscription. Closing the channel invalidates all subscriptions.
func (self *EventChannel) On(event string, callback EventFunction) func() {
	self.stateLock.Lock()
	callbacks, ok := self.subscribers[event]
	if !ok {
		callbacks = NewCallbackList[EventFunction]()
		self.subscribers[event] = callbacks
	}
	self.stateLock.Unlock()

	callbackId := callbacks.Add(callback)
	return func() {
		callbacks.Remove(callbackId)
	}
}

// queue an outbound event. Returns false without queuing when the
// channel is closed or the send buffer is full.
func (self *EventChannel) Emit(event string, payload any) bool {
	self.stateLock.Lock()
	closed := self.closed
	self.stateLock.Unlock()
	if closed {
		glog.V(2).Infof("[ch]emit %s dropped, channel closed\n", event)
		return false
	}

	var data json.RawMessage
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			glog.Infof("[ch]emit %s marshal error = %s\n", event, err)
			return false
		}
	}

	select {
	case self.sendBuffer <- &ChannelEvent{Event: event, Data: data}:
		glog.V(2).Infof("[ch]%s->\n", event)
		return true
	default:
		// backpressure. drop rather than block the caller
		glog.Infof("[ch]emit %s dropped, send buffer full\n", event)
		return false
	}
}

// deliver an inbound event to all subscribers, in subscription order.
// Called from the transport read pump, one event at a time.
func (self *EventChannel) dispatch(event string, data json.RawMessage) {
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	callbacks, ok := self.subscribers[event]
	self.stateLock.Unlock()
	if !ok {
		return
	}

	glog.V(2).Infof("[ch]%s<-\n", event)
	for _, callback := range callbacks.Get() {
		callback(data)
	}
}

func (self *EventChannel) sends() <-chan *ChannelEvent {
	return self.sendBuffer
}

func (self *EventChannel) IsOpen() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return !self.closed
}

func (self *EventChannel) Done() <-chan struct{} {
	return self.ctx.Done()
}

func (self *EventChannel) Close() {
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	self.closed = true
	self.stateLock.Unlock()

	self.cancel()
	// note `sendBuffer` is not closed. This channel is left open.
}
