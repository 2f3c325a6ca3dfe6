package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/duetchat/chatlink"
)

const ChatlinkCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Chatlink control.

The default urls are:
    api_url: http://localhost:3001
    connect_url: ws://localhost:3001/ws

Usage:
    chatlinkctl connect [--connect_url=<connect_url>] [--jwt=<jwt>]
    chatlinkctl send [--connect_url=<connect_url>] [--jwt=<jwt>]
        --to=<recipient_id>
        [<message>]
    chatlinkctl search [--api_url=<api_url>] [--jwt=<jwt>]
        --user_id=<user_id>
        <query>
    chatlinkctl friends [--api_url=<api_url>] [--jwt=<jwt>]
        --user_id=<user_id>
    chatlinkctl friend-request [--api_url=<api_url>] [--jwt=<jwt>]
        --user_id=<user_id>
        --to=<recipient_id>

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --api_url=<api_url>
    --connect_url=<connect_url>
    --jwt=<jwt>                Your platform JWT.
    --user_id=<user_id>        Your user id.
    --to=<recipient_id>        Recipient user id.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ChatlinkCtlVersion)
	if err != nil {
		panic(err)
	}

	if connect_, _ := opts.Bool("connect"); connect_ {
		connect(opts)
	} else if send_, _ := opts.Bool("send"); send_ {
		send(opts)
	} else if search_, _ := opts.Bool("search"); search_ {
		search(opts)
	} else if friends_, _ := opts.Bool("friends"); friends_ {
		friends(opts)
	} else if friendRequest_, _ := opts.Bool("friend-request"); friendRequest_ {
		friendRequest(opts)
	}
}

func apiUrl(opts docopt.Opts) string {
	if apiUrl, err := opts.String("--api_url"); err == nil && apiUrl != "" {
		return apiUrl
	}
	return "http://localhost:3001"
}

func connectUrl(opts docopt.Opts) string {
	if connectUrl, err := opts.String("--connect_url"); err == nil && connectUrl != "" {
		return connectUrl
	}
	return "ws://localhost:3001/ws"
}

func jwt(opts docopt.Opts) string {
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		return jwt
	}
	fmt.Print("JWT: ")
	jwtBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		panic(err)
	}
	return string(jwtBytes)
}

func openChannel(opts docopt.Opts) (*chatlink.ConnectionManager, *chatlink.EventChannel, *chatlink.ClientAuth) {
	ctx := context.Background()

	auth := &chatlink.ClientAuth{
		ByJwt: jwt(opts),
	}
	connectionManager := chatlink.NewConnectionManagerWithDefaults(ctx, connectUrl(opts))
	channel, err := connectionManager.Connect(auth)
	if err != nil {
		Err.Fatalf("Could not connect: %s", err)
	}
	return connectionManager, channel, auth
}

// open a channel and print inbound events until interrupted
func connect(opts docopt.Opts) {
	connectionManager, channel, _ := openChannel(opts)
	defer connectionManager.Close()

	events := []string{
		chatlink.EventUserOnline,
		chatlink.EventUserOffline,
		chatlink.EventMessageReceive,
		chatlink.EventMessageSent,
		chatlink.EventMessageRead,
		chatlink.EventPeerTyping,
	}
	for _, event := range events {
		func(event string) {
			channel.On(event, func(data json.RawMessage) {
				Out.Printf("%s %s", event, string(data))
			})
		}(event)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigs:
	case <-channel.Done():
	}
}

func send(opts docopt.Opts) {
	recipientId, _ := opts.String("--to")
	message, _ := opts.String("<message>")
	if message == "" {
		message = "hi"
	}

	connectionManager, channel, auth := openChannel(opts)
	defer connectionManager.Close()

	userId, _ := auth.ClientUserId()
	messageStore := chatlink.NewMessageStore(channel, userId)
	defer messageStore.Close()

	tempId := messageStore.Send(message, recipientId)
	if tempId == "" {
		Err.Fatalf("Send rejected.")
	}
	Out.Printf("sent %s", tempId)

	// wait for the confirmation before exiting
	confirmed := make(chan struct{}, 1)
	channel.On(chatlink.EventMessageSent, func(data json.RawMessage) {
		select {
		case confirmed <- struct{}{}:
		default:
		}
	})
	select {
	case <-confirmed:
	case <-channel.Done():
	}
}

func search(opts docopt.Opts) {
	userId, _ := opts.String("--user_id")
	query, _ := opts.String("<query>")

	ctx := context.Background()

	api := chatlink.NewChatApiWithContext(ctx, apiUrl(opts))
	api.SetByJwt(jwt(opts))

	searchCache := chatlink.NewSearchCacheWithDefaults(ctx, userId, api.SearchFunction())
	defer searchCache.Close()

	results, err := searchCache.SearchSync(query)
	if err != nil {
		Err.Fatalf("Search failed: %s", err)
	}
	for _, result := range results {
		Out.Printf("%s %s (%s) online=%t %s",
			result.Id,
			result.DisplayName,
			result.Username,
			result.IsOnline,
			result.FriendshipStatus,
		)
	}
}

func friends(opts docopt.Opts) {
	userId, _ := opts.String("--user_id")

	api := chatlink.NewChatApi(apiUrl(opts))
	api.SetByJwt(jwt(opts))

	callback, c := chatlink.NewBlockingApiCallback[*chatlink.GetFriendsResult]()
	api.GetFriends(userId, callback)
	r := <-c
	if r.Error != nil {
		Err.Fatalf("Could not list friends: %s", r.Error)
	}
	if !r.Result.Success {
		Err.Fatalf("Could not list friends: %s", r.Result.Message)
	}
	for _, friend := range r.Result.Friends {
		Out.Printf("%s %s (%s) online=%t", friend.Id, friend.DisplayName, friend.Username, friend.IsOnline)
	}
}

func friendRequest(opts docopt.Opts) {
	userId, _ := opts.String("--user_id")
	recipientId, _ := opts.String("--to")

	api := chatlink.NewChatApi(apiUrl(opts))
	api.SetByJwt(jwt(opts))

	callback, c := chatlink.NewBlockingApiCallback[*chatlink.SendFriendRequestResult]()
	api.SendFriendRequest(&chatlink.SendFriendRequestArgs{
		FromUserId: userId,
		ToUserId:   recipientId,
	}, callback)
	r := <-c
	if r.Error != nil {
		Err.Fatalf("Could not send friend request: %s", r.Error)
	}
	Out.Printf("%s", r.Result.Message)
}
