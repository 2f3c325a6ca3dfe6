package chatlink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestSearchUsers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/friends/search", r.URL.Path)
		assert.Equal(t, "al", r.URL.Query().Get("query"))
		assert.Equal(t, "u1", r.URL.Query().Get("userId"))
		assert.Equal(t, "Bearer testjwt", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(&SearchUsersResult{
			Success: true,
			Users: []*UserSearchResult{
				{
					Id:               "u2",
					DisplayName:      "Alice",
					Username:         "alice",
					IsOnline:         true,
					FriendshipStatus: "none",
				},
			},
		})
	}))
	defer server.Close()

	api := NewChatApi(server.URL)
	api.SetByJwt("testjwt")
	defer api.Close()

	callback, c := NewBlockingApiCallback[*SearchUsersResult]()
	api.SearchUsers(&SearchUsersArgs{Query: "al", UserId: "u1"}, callback)
	r := <-c
	assert.Equal(t, nil, r.Error)
	assert.Equal(t, true, r.Result.Success)
	assert.Equal(t, 1, len(r.Result.Users))
	assert.Equal(t, UserId("u2"), r.Result.Users[0].Id)
	assert.Equal(t, "alice", r.Result.Users[0].Username)
}

func TestApiErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "User not found.", http.StatusNotFound)
	}))
	defer server.Close()

	api := NewChatApi(server.URL)
	defer api.Close()

	callback, c := NewBlockingApiCallback[*GetFriendsResult]()
	api.GetFriends("u404", callback)
	r := <-c
	assert.NotEqual(t, nil, r.Error)
	// the response body is the error message
	assert.Equal(t, "User not found.", r.Error.Error())
}

func TestSearchFunction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		switch query {
		case "al":
			json.NewEncoder(w).Encode(&SearchUsersResult{
				Success: true,
				Users:   []*UserSearchResult{{Id: "u2"}},
			})
		case "slow":
			time.Sleep(2 * time.Second)
			json.NewEncoder(w).Encode(&SearchUsersResult{Success: true})
		default:
			json.NewEncoder(w).Encode(&SearchUsersResult{
				Success: false,
				Message: "Failed to search users.",
			})
		}
	}))
	defer server.Close()

	api := NewChatApi(server.URL)
	defer api.Close()
	search := api.SearchFunction()

	ctx := context.Background()

	results, err := search(ctx, "al", "u1")
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(results))

	// unsuccessful responses surface the service message
	_, err = search(ctx, "nope", "u1")
	assert.NotEqual(t, nil, err)
	assert.Equal(t, "Failed to search users.", err.Error())

	// cancellation reports supersession
	cancelCtx, cancel := context.WithCancel(ctx)
	errs := make(chan error, 1)
	go func() {
		_, err := search(cancelCtx, "slow", "u1")
		errs <- err
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-errs:
		assert.Equal(t, true, errors.Is(err, ErrSuperseded))
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for the cancelled search.")
	}
}

func TestSendFriendRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/friends/request", r.URL.Path)

		var args SendFriendRequestArgs
		assert.Equal(t, nil, json.NewDecoder(r.Body).Decode(&args))
		assert.Equal(t, UserId("u1"), args.FromUserId)
		assert.Equal(t, UserId("u2"), args.ToUserId)

		json.NewEncoder(w).Encode(&SendFriendRequestResult{
			Success: true,
			Message: "Friend request sent successfully!",
		})
	}))
	defer server.Close()

	api := NewChatApi(server.URL)
	defer api.Close()

	callback, c := NewBlockingApiCallback[*SendFriendRequestResult]()
	api.SendFriendRequest(&SendFriendRequestArgs{FromUserId: "u1", ToUserId: "u2"}, callback)
	r := <-c
	assert.Equal(t, nil, r.Error)
	assert.Equal(t, true, r.Result.Success)
	assert.Equal(t, "Friend request sent successfully!", r.Result.Message)
}

func TestRemoveFriend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/friends/u1/u2", r.URL.Path)

		json.NewEncoder(w).Encode(&RemoveFriendResult{Success: true})
	}))
	defer server.Close()

	api := NewChatApi(server.URL)
	defer api.Close()

	callback, c := NewBlockingApiCallback[*RemoveFriendResult]()
	api.RemoveFriend("u1", "u2", callback)
	r := <-c
	assert.Equal(t, nil, r.Error)
	assert.Equal(t, true, r.Result.Success)
}

func TestRespondToFriendRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/friends/respond", r.URL.Path)

		var args RespondToFriendRequestArgs
		assert.Equal(t, nil, json.NewDecoder(r.Body).Decode(&args))
		assert.Equal(t, "r1", args.RequestId)
		assert.Equal(t, FriendRequestActionAccept, args.Action)

		json.NewEncoder(w).Encode(&RespondToFriendRequestResult{Success: true})
	}))
	defer server.Close()

	api := NewChatApi(server.URL)
	defer api.Close()

	callback, c := NewBlockingApiCallback[*RespondToFriendRequestResult]()
	api.RespondToFriendRequest(&RespondToFriendRequestArgs{
		RequestId: "r1",
		Action:    FriendRequestActionAccept,
	}, callback)
	r := <-c
	assert.Equal(t, nil, r.Error)
	assert.Equal(t, true, r.Result.Success)
}
