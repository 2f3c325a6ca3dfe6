package chatlink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// rest client for the chat service: user search plus the friend-request
// crud consumed by the friends workflow. Each call returns
// success/failure plus a human-readable message; failures are surfaced
// to the caller, never retried automatically
type ChatApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewChatApi(apiUrl string) *ChatApi {
	return NewChatApiWithContext(context.Background(), apiUrl)
}

func NewChatApiWithContext(ctx context.Context, apiUrl string) *ChatApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &ChatApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *ChatApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

type UserSearchResult struct {
	Id               UserId `json:"id"`
	DisplayName      string `json:"displayName"`
	Username         string `json:"username"`
	Avatar           string `json:"avatar,omitempty"`
	IsOnline         bool   `json:"isOnline"`
	FriendshipStatus string `json:"friendshipStatus,omitempty"`
}

type SearchUsersCallback apiCallback[*SearchUsersResult]

type SearchUsersArgs struct {
	Query  string `json:"query"`
	UserId UserId `json:"userId"`
}

type SearchUsersResult struct {
	Success bool                `json:"success"`
	Message string              `json:"message,omitempty"`
	Users   []*UserSearchResult `json:"users"`
}

func (self *ChatApi) SearchUsers(searchUsers *SearchUsersArgs, callback SearchUsersCallback) {
	go get(
		self.ctx,
		self.searchUsersUrl(searchUsers),
		self.byJwt,
		&SearchUsersResult{},
		callback,
	)
}

func (self *ChatApi) searchUsersUrl(searchUsers *SearchUsersArgs) string {
	params := url.Values{}
	params.Set("query", searchUsers.Query)
	params.Set("userId", string(searchUsers.UserId))
	return fmt.Sprintf("%s/api/friends/search?%s", self.apiUrl, params.Encode())
}

// binds the search call as the search cache's remote query. Cancelling
// the context reports supersession
func (self *ChatApi) SearchFunction() SearchFunction {
	return func(ctx context.Context, query string, userId UserId) ([]*UserSearchResult, error) {
		result, err := get(
			ctx,
			self.searchUsersUrl(&SearchUsersArgs{Query: query, UserId: userId}),
			self.byJwt,
			&SearchUsersResult{},
			NewNoopApiCallback[*SearchUsersResult](),
		)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, ErrSuperseded
			}
			return nil, err
		}
		if !result.Success {
			message := result.Message
			if message == "" {
				message = "Failed to search users."
			}
			return nil, errors.New(message)
		}
		return result.Users, nil
	}
}

type Friend struct {
	Id          UserId `json:"id"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	Avatar      string `json:"avatar,omitempty"`
	IsOnline    bool   `json:"isOnline"`
}

type FriendRequest struct {
	Id         string `json:"id"`
	FromUserId UserId `json:"fromUserId"`
	ToUserId   UserId `json:"toUserId"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

type SendFriendRequestCallback apiCallback[*SendFriendRequestResult]

type SendFriendRequestArgs struct {
	FromUserId UserId `json:"fromUserId"`
	ToUserId   UserId `json:"toUserId"`
}

type SendFriendRequestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (self *ChatApi) SendFriendRequest(sendFriendRequest *SendFriendRequestArgs, callback SendFriendRequestCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/api/friends/request", self.apiUrl),
		sendFriendRequest,
		self.byJwt,
		&SendFriendRequestResult{},
		callback,
	)
}

type GetFriendsCallback apiCallback[*GetFriendsResult]

type GetFriendsResult struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Friends []*Friend `json:"friends"`
}

func (self *ChatApi) GetFriends(userId UserId, callback GetFriendsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/api/friends/%s", self.apiUrl, url.PathEscape(string(userId))),
		self.byJwt,
		&GetFriendsResult{},
		callback,
	)
}

type GetFriendRequestsCallback apiCallback[*GetFriendRequestsResult]

type GetFriendRequestsResult struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message,omitempty"`
	Requests []*FriendRequest `json:"requests"`
}

func (self *ChatApi) GetFriendRequestsReceived(userId UserId, callback GetFriendRequestsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/api/friends/requests/received/%s", self.apiUrl, url.PathEscape(string(userId))),
		self.byJwt,
		&GetFriendRequestsResult{},
		callback,
	)
}

func (self *ChatApi) GetFriendRequestsSent(userId UserId, callback GetFriendRequestsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/api/friends/requests/sent/%s", self.apiUrl, url.PathEscape(string(userId))),
		self.byJwt,
		&GetFriendRequestsResult{},
		callback,
	)
}

type RespondToFriendRequestCallback apiCallback[*RespondToFriendRequestResult]

const (
	FriendRequestActionAccept = "accept"
	FriendRequestActionReject = "reject"
)

type RespondToFriendRequestArgs struct {
	RequestId string `json:"requestId"`
	// accept or reject
	Action string `json:"action"`
}

type RespondToFriendRequestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (self *ChatApi) RespondToFriendRequest(respondToFriendRequest *RespondToFriendRequestArgs, callback RespondToFriendRequestCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/api/friends/respond", self.apiUrl),
		respondToFriendRequest,
		self.byJwt,
		&RespondToFriendRequestResult{},
		callback,
	)
}

type CancelFriendRequestCallback apiCallback[*CancelFriendRequestResult]

type CancelFriendRequestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (self *ChatApi) CancelFriendRequest(requestId string, callback CancelFriendRequestCallback) {
	go del(
		self.ctx,
		fmt.Sprintf("%s/api/friends/request/%s", self.apiUrl, url.PathEscape(requestId)),
		self.byJwt,
		&CancelFriendRequestResult{},
		callback,
	)
}

type RemoveFriendCallback apiCallback[*RemoveFriendResult]

type RemoveFriendResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (self *ChatApi) RemoveFriend(userId UserId, friendId UserId, callback RemoveFriendCallback) {
	go del(
		self.ctx,
		fmt.Sprintf(
			"%s/api/friends/%s/%s",
			self.apiUrl,
			url.PathEscape(string(userId)),
			url.PathEscape(string(friendId)),
		),
		self.byJwt,
		&RemoveFriendResult{},
		callback,
	)
}

type GetFriendshipStatusCallback apiCallback[*GetFriendshipStatusResult]

type GetFriendshipStatusResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (self *ChatApi) GetFriendshipStatus(userId UserId, targetUserId UserId, callback GetFriendshipStatusCallback) {
	go get(
		self.ctx,
		fmt.Sprintf(
			"%s/api/friends/status/%s/%s",
			self.apiUrl,
			url.PathEscape(string(userId)),
			url.PathEscape(string(targetUserId)),
		),
		self.byJwt,
		&GetFriendshipStatusResult{},
		callback,
	)
}

func (self *ChatApi) Close() {
	self.cancel()
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	return bodyless(ctx, "GET", url, byJwt, result, callback)
}

func del[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	return bodyless(ctx, "DELETE", url, byJwt, result, callback)
}

func bodyless[R any](ctx context.Context, method string, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
