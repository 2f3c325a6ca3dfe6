package chatlink

import (
	"sync"

	"github.com/oklog/ulid/v2"
)

/*
Client-side realtime sync core for a two-party chat:
- a single bidirectional event channel per logged-in identity
- presence set maintained from explicit online/offline events
- per-peer message threads with optimistic sends reconciled against
  server confirmations
- read receipts, typing debounce, and a capacity-bounded search cache

All state is process-local and rebuilt from empty on reconnect.
*/

// opaque stable id for a user. The only durable key used across all maps.
type UserId = string

type MessageStatus = string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

type Message struct {
	Id          string        `json:"id"`
	Content     string        `json:"content"`
	SenderId    UserId        `json:"senderId"`
	RecipientId UserId        `json:"recipientId"`
	// ISO 8601
	Timestamp string        `json:"timestamp"`
	Status    MessageStatus `json:"status"`
}

const tempIdPrefix = "temp_"

// provisional message id, unique per call.
// ulids are time ordered with a random suffix,
// so collisions are negligible for a session lifetime
func newTempId() string {
	return tempIdPrefix + ulid.Make().String()
}

// makes a copy of the list on get so that callbacks can be
// added/removed from inside a callback
type CallbackList[T any] struct {
	stateLock      sync.Mutex
	nextCallbackId int
	callbackIds    []int
	callbacks      map[int]T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbackIds: []int{},
		callbacks:   map[int]T{},
	}
}

func (self *CallbackList[T]) Add(callback T) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	self.callbackIds = append(self.callbackIds, callbackId)
	self.callbacks[callbackId] = callback
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.callbacks[callbackId]; !ok {
		// not present
		return
	}
	delete(self.callbacks, callbackId)
	for i, existingCallbackId := range self.callbackIds {
		if existingCallbackId == callbackId {
			self.callbackIds = append(self.callbackIds[:i], self.callbackIds[i+1:]...)
			break
		}
	}
}

// in add order
func (self *CallbackList[T]) Get() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbacks := make([]T, 0, len(self.callbackIds))
	for _, callbackId := range self.callbackIds {
		callbacks = append(callbacks, self.callbacks[callbackId])
	}
	return callbacks
}

func (self *CallbackList[T]) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.callbackIds)
}
