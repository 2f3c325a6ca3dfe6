package chatlink

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/golang/glog"
)

// outbound send command. `TempId` is the provisional id the server
// echoes back in the sent-confirmation
type SendMessageArgs struct {
	Content     string `json:"content"`
	RecipientId UserId `json:"recipientId"`
	SenderId    UserId `json:"senderId"`
	TempId      string `json:"tempId"`
}

type SentConfirmation struct {
	TempId    string        `json:"tempId"`
	MessageId string        `json:"messageId"`
	Status    MessageStatus `json:"status"`
}

// message id -> location in a thread. Threads are append only, so a
// recorded index never shifts. The index is updated in the same lock
// hold as every thread mutation
type messagePosition struct {
	peerId UserId
	index  int
}

// per-peer ordered message history. Thread order is insertion order,
// never re-sorted by timestamp. The store is the only writer of message
// state; other components go through its methods.
//
// A send appends a provisional message synchronously before the command
// reaches the network, so the sender's view updates with zero perceived
// latency. The server's sent-confirmation later rewrites the
// provisional id in place.
type MessageStore struct {
	channel *EventChannel
	userId  UserId

	stateLock sync.Mutex
	threads   map[UserId][]*Message
	// includes provisional ids until reconciled
	messagePositions map[string]*messagePosition

	unsubs []func()
}

func NewMessageStore(channel *EventChannel, userId UserId) *MessageStore {
	messageStore := &MessageStore{
		channel:          channel,
		userId:           userId,
		threads:          map[UserId][]*Message{},
		messagePositions: map[string]*messagePosition{},
	}
	messageStore.unsubs = append(
		messageStore.unsubs,
		channel.On(EventMessageReceive, messageStore.receive),
		channel.On(EventMessageSent, messageStore.reconcile),
	)
	return messageStore
}

// optimistic send. Returns the provisional id, or "" when the send was
// rejected (blank content, no identity, or no open channel). A rejected
// send has no side effects.
func (self *MessageStore) Send(content string, recipientId UserId) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if self.userId == "" || recipientId == "" {
		return ""
	}
	if self.channel == nil || !self.channel.IsOpen() {
		return ""
	}

	tempId := newTempId()
	message := &Message{
		Id:          tempId,
		Content:     content,
		SenderId:    self.userId,
		RecipientId: recipientId,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Status:      MessageStatusSending,
	}

	self.stateLock.Lock()
	self.appendMessage(recipientId, message)
	self.stateLock.Unlock()

	self.channel.Emit(EventMessageSend, &SendMessageArgs{
		Content:     content,
		RecipientId: recipientId,
		SenderId:    self.userId,
		TempId:      tempId,
	})
	glog.V(2).Infof("[ms]send %s->%s\n", tempId, recipientId)
	return tempId
}

// must hold stateLock
func (self *MessageStore) appendMessage(peerId UserId, message *Message) {
	thread := self.threads[peerId]
	self.messagePositions[message.Id] = &messagePosition{
		peerId: peerId,
		index:  len(thread),
	}
	self.threads[peerId] = append(thread, message)
}

// inbound message from a peer, appended to the thread keyed by the
// sender. No de-duplication: at-most-once delivery per message is the
// service's contract.
func (self *MessageStore) receive(data json.RawMessage) {
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		glog.Infof("[ms]receive decode error = %s\n", err)
		return
	}
	if message.SenderId == "" {
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.appendMessage(message.SenderId, &message)
}

// sent-confirmation. Rewrites the provisional id to the server id and
// updates status, leaving position and content untouched. A
// confirmation for an unknown provisional id, including a duplicate, is
// a no-op.
func (self *MessageStore) reconcile(data json.RawMessage) {
	var confirmation SentConfirmation
	if err := json.Unmarshal(data, &confirmation); err != nil {
		glog.Infof("[ms]sent decode error = %s\n", err)
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	position, ok := self.messagePositions[confirmation.TempId]
	if !ok {
		// late or duplicate delivery. benign
		glog.V(2).Infof("[ms]sent miss %s\n", confirmation.TempId)
		return
	}
	message := self.threads[position.peerId][position.index]

	delete(self.messagePositions, confirmation.TempId)
	message.Id = confirmation.MessageId
	if confirmation.Status != "" {
		message.Status = confirmation.Status
	} else {
		message.Status = MessageStatusSent
	}
	self.messagePositions[confirmation.MessageId] = position
}

// set a message's status to read. Idempotent; unknown ids change
// nothing
func (self *MessageStore) markRead(messageId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	position, ok := self.messagePositions[messageId]
	if !ok {
		return
	}
	message := self.threads[position.peerId][position.index]
	if message.Status != MessageStatusRead {
		message.Status = MessageStatusRead
	}
}

// snapshot of the thread with one peer, in insertion order
func (self *MessageStore) Thread(peerId UserId) []Message {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	thread := make([]Message, 0, len(self.threads[peerId]))
	for _, message := range self.threads[peerId] {
		thread = append(thread, *message)
	}
	return thread
}

func (self *MessageStore) Peers() []UserId {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	peers := maps.Keys(self.threads)
	slices.Sort(peers)
	return peers
}

func (self *MessageStore) MessageCount(peerId UserId) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.threads[peerId])
}

func (self *MessageStore) Close() {
	for _, unsub := range self.unsubs {
		unsub()
	}
}
