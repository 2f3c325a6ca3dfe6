package chatlink

import (
	"encoding/json"

	"github.com/golang/glog"
)

// outbound mark-read command
type ReadReceiptArgs struct {
	MessageId string `json:"messageId"`
	SenderId  UserId `json:"senderId"`
}

// inbound read-confirmation
type readConfirmation struct {
	MessageId string `json:"messageId"`
}

// announces read state to the remote side and applies read
// confirmations to the message store. MarkAsRead never mutates local
// state directly; the store's status only changes when the
// confirmation comes back, which keeps the store the single writer.
//
// When to mark a message read is the caller's policy. This component
// only offers the primitive.
type ReadReceiptPropagator struct {
	channel      *EventChannel
	messageStore *MessageStore

	unsubs []func()
}

func NewReadReceiptPropagator(channel *EventChannel, messageStore *MessageStore) *ReadReceiptPropagator {
	readReceiptPropagator := &ReadReceiptPropagator{
		channel:      channel,
		messageStore: messageStore,
	}
	readReceiptPropagator.unsubs = append(
		readReceiptPropagator.unsubs,
		channel.On(EventMessageRead, readReceiptPropagator.confirm),
	)
	return readReceiptPropagator
}

// emit only. A no-op when the channel is closed
func (self *ReadReceiptPropagator) MarkAsRead(messageId string, senderId UserId) {
	if messageId == "" {
		return
	}
	self.channel.Emit(EventMessageRead, &ReadReceiptArgs{
		MessageId: messageId,
		SenderId:  senderId,
	})
}

func (self *ReadReceiptPropagator) confirm(data json.RawMessage) {
	var confirmation readConfirmation
	if err := json.Unmarshal(data, &confirmation); err != nil {
		glog.Infof("[rr]read decode error = %s\n", err)
		return
	}
	if confirmation.MessageId == "" {
		return
	}
	self.messageStore.markRead(confirmation.MessageId)
}

func (self *ReadReceiptPropagator) Close() {
	for _, unsub := range self.unsubs {
		unsub()
	}
}
