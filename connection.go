package chatlink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

var ErrMissingIdentity = errors.New("No identity for connection.")

type ConnectionSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	SendBufferSize     int
}

func DefaultConnectionSettings() *ConnectionSettings {
	return &ConnectionSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
		SendBufferSize:     32,
	}
}

// auth record sent as the first message after the websocket handshake.
// the service echoes it back to confirm the session
type connectionAuth struct {
	UserId UserId `json:"userId"`
	ByJwt  string `json:"byJwt,omitempty"`
}

// owns the lifecycle of the single event-stream connection bound to the
// current identity. Exactly one channel may be open per identity;
// Connect while connected returns the existing channel.
//
// There is no automatic reconnection. After a transport-level drop the
// channel is rebuilt only when the identity changes or a consumer calls
// Connect again. This is a documented limitation.
type ConnectionManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	platformUrl string

	settings *ConnectionSettings

	stateLock sync.Mutex
	userId    UserId
	channel   *EventChannel
}

func NewConnectionManagerWithDefaults(ctx context.Context, platformUrl string) *ConnectionManager {
	return NewConnectionManager(ctx, platformUrl, DefaultConnectionSettings())
}

func NewConnectionManager(ctx context.Context, platformUrl string, settings *ConnectionSettings) *ConnectionManager {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ConnectionManager{
		ctx:         cancelCtx,
		cancel:      cancel,
		platformUrl: platformUrl,
		settings:    settings,
	}
}

// dial, authenticate, and start the pumps. On success the channel has
// already announced presence with a join event.
func (self *ConnectionManager) Connect(auth *ClientAuth) (*EventChannel, error) {
	userId, err := auth.ClientUserId()
	if err != nil {
		return nil, err
	}
	if userId == "" {
		return nil, ErrMissingIdentity
	}

	self.stateLock.Lock()
	if self.channel != nil && self.channel.IsOpen() && self.userId == userId {
		channel := self.channel
		self.stateLock.Unlock()
		return channel, nil
	}
	previousChannel := self.channel
	self.stateLock.Unlock()

	if previousChannel != nil && previousChannel.IsOpen() {
		// identity changed. tear down the old channel first
		self.disconnectChannel(previousChannel)
	}

	authBytes, err := json.Marshal(&connectionAuth{
		UserId: userId,
		ByJwt:  auth.ByJwt,
	})
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(self.ctx, self.platformUrl, nil)
	if err != nil {
		return nil, err
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, authBytes); err != nil {
		return nil, err
	}
	ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
	if messageType, message, err := ws.ReadMessage(); err != nil {
		return nil, err
	} else {
		// verify the auth echo
		switch messageType {
		case websocket.TextMessage:
			if !bytes.Equal(authBytes, message) {
				return nil, fmt.Errorf("Auth response error: bad bytes.")
			}
		default:
			return nil, fmt.Errorf("Auth response error.")
		}
	}

	channel := NewEventChannel(self.ctx, self.settings.SendBufferSize)

	self.stateLock.Lock()
	self.userId = userId
	self.channel = channel
	self.stateLock.Unlock()

	go self.writePump(ws, channel)
	go self.readPump(ws, channel)

	channel.Emit(EventUserJoin, &PresenceEvent{UserId: userId})
	glog.Infof("[cm]connected %s\n", userId)

	success = true
	return channel, nil
}

// reflect an identity change from the session layer. An empty identity
// tears the channel down; a new identity rebuilds it.
func (self *ConnectionManager) UpdateIdentity(auth *ClientAuth) (*EventChannel, error) {
	if auth == nil {
		self.Disconnect()
		return nil, nil
	}
	userId, err := auth.ClientUserId()
	if err != nil {
		return nil, err
	}
	if userId == "" {
		self.Disconnect()
		return nil, nil
	}
	return self.Connect(auth)
}

func (self *ConnectionManager) Channel() *EventChannel {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.channel
}

func (self *ConnectionManager) IsConnected() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.channel != nil && self.channel.IsOpen()
}

// announce leave and close the channel. All subscriptions are
// invalidated. Safe to call when not connected.
func (self *ConnectionManager) Disconnect() {
	self.stateLock.Lock()
	channel := self.channel
	self.channel = nil
	self.stateLock.Unlock()

	if channel != nil {
		self.disconnectChannel(channel)
	}
}

func (self *ConnectionManager) disconnectChannel(channel *EventChannel) {
	self.stateLock.Lock()
	userId := self.userId
	self.stateLock.Unlock()

	if channel.IsOpen() {
		channel.Emit(EventUserLeave, &PresenceEvent{UserId: userId})
	}
	// the write pump drains the buffered leave before the socket closes
	channel.Close()
	glog.Infof("[cm]disconnected %s\n", userId)
}

func (self *ConnectionManager) Close() {
	self.Disconnect()
	self.cancel()
}

func (self *ConnectionManager) writePump(ws *websocket.Conn, channel *EventChannel) {
	defer ws.Close()

	write := func(event *ChannelEvent) error {
		message, err := json.Marshal(event)
		if err != nil {
			return err
		}
		ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		return ws.WriteMessage(websocket.TextMessage, message)
	}

	for {
		select {
		case <-channel.Done():
			// drain events emitted just before close, e.g. the leave
			for {
				select {
				case event := <-channel.sends():
					if err := write(event); err != nil {
						return
					}
				default:
					return
				}
			}
		case event := <-channel.sends():
			if err := write(event); err != nil {
				// note that for websocket a deadline timeout cannot be recovered
				glog.Infof("[cm]-> error = %s\n", err)
				channel.Close()
				return
			}
			glog.V(2).Infof("[cm]%s->\n", event.Event)
		case <-time.After(self.settings.PingTimeout):
			ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, make([]byte, 0)); err != nil {
				channel.Close()
				return
			}
		}
	}
}

func (self *ConnectionManager) readPump(ws *websocket.Conn, channel *EventChannel) {
	defer func() {
		// transport-level drop. presence and typing state freeze until
		// a consumer reconnects
		channel.dispatch(EventDisconnect, nil)
		channel.Close()
	}()

	for {
		select {
		case <-channel.Done():
			return
		default:
		}

		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			glog.Infof("[cm]<- error = %s\n", err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			if 0 == len(message) {
				// ping
				glog.V(2).Infof("[cm]ping<-\n")
				continue
			}

			var event ChannelEvent
			if err := json.Unmarshal(message, &event); err != nil {
				glog.Infof("[cm]<- decode error = %s\n", err)
				continue
			}
			channel.dispatch(event.Event, event.Data)
		default:
			glog.V(2).Infof("[cm]other=%d<-\n", messageType)
		}
	}
}
