package chatlink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/golang/glog"
)

// a completed async operation whose result is no longer relevant.
// never surfaced to a caller
var ErrSuperseded = errors.New("Request superseded.")

type SearchSettings struct {
	// queries shorter than this after trimming short-circuit to empty
	MinQueryLength int
	// fifo cache capacity
	CacheCapacity int
	// input quiescence before a search is issued at all
	DebounceTimeout time.Duration
}

func DefaultSearchSettings() *SearchSettings {
	return &SearchSettings{
		MinQueryLength:  2,
		CacheCapacity:   50,
		DebounceTimeout: 300 * time.Millisecond,
	}
}

// the remote user-search call. Implementations should return
// ErrSuperseded or the context error when ctx is cancelled
type SearchFunction func(ctx context.Context, query string, userId UserId) ([]*UserSearchResult, error)

type SearchResultFunction func(results []*UserSearchResult, err error)

// query-keyed, capacity-bounded cache over the remote user search, with
// request supersession.
//
// Entries are immutable once stored and evicted only by the fifo
// capacity policy, never invalidated on backend change. Stale reads are
// an accepted tradeoff. Eviction is oldest-inserted first, not lru;
// this is an observable behavioral contract.
//
// Issuing a search for a new query cancels the in-flight call for a
// different query. Cancellation is advisory: a superseded call may
// still complete, and its result is discarded without reaching the
// cache or the callback.
type SearchCache struct {
	ctx    context.Context
	cancel context.CancelFunc

	userId   UserId
	search   SearchFunction
	settings *SearchSettings

	stateLock sync.Mutex
	entries   map[string][]*UserSearchResult
	// insertion order, oldest first
	entryOrder []string

	inFlightQuery  string
	inFlightCancel context.CancelFunc
	inFlightGen    int
}

func NewSearchCacheWithDefaults(ctx context.Context, userId UserId, search SearchFunction) *SearchCache {
	return NewSearchCache(ctx, userId, search, DefaultSearchSettings())
}

func NewSearchCache(ctx context.Context, userId UserId, search SearchFunction, settings *SearchSettings) *SearchCache {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &SearchCache{
		ctx:      cancelCtx,
		cancel:   cancel,
		userId:   userId,
		search:   search,
		settings: settings,
		entries:  map[string][]*UserSearchResult{},
	}
}

func (self *SearchCache) cacheKey(normalizedQuery string) string {
	return fmt.Sprintf("%s-%s", normalizedQuery, self.userId)
}

// asynchronous. The callback fires once with either the result list or
// an error, except when the request is superseded by a newer query, in
// which case it never fires. Input debouncing is the caller's job; see
// SearchDebouncer.
func (self *SearchCache) Search(query string, callback SearchResultFunction) {
	normalizedQuery := strings.ToLower(strings.TrimSpace(query))
	if len(normalizedQuery) < self.settings.MinQueryLength {
		// no cache interaction, no network call
		callback([]*UserSearchResult{}, nil)
		return
	}
	key := self.cacheKey(normalizedQuery)

	self.stateLock.Lock()
	if results, ok := self.entries[key]; ok {
		self.stateLock.Unlock()
		glog.V(2).Infof("[sc]hit %s\n", normalizedQuery)
		callback(slices.Clone(results), nil)
		return
	}

	if self.inFlightCancel != nil && self.inFlightQuery != normalizedQuery {
		// advisory. the superseded result is discarded on arrival either way
		self.inFlightCancel()
	}
	searchCtx, searchCancel := context.WithCancel(self.ctx)
	self.inFlightGen += 1
	gen := self.inFlightGen
	self.inFlightQuery = normalizedQuery
	self.inFlightCancel = searchCancel
	self.stateLock.Unlock()

	glog.V(2).Infof("[sc]miss %s\n", normalizedQuery)

	go func() {
		defer searchCancel()

		results, err := self.search(searchCtx, strings.TrimSpace(query), self.userId)

		self.stateLock.Lock()
		if gen != self.inFlightGen {
			// a newer query took over while this one was in flight
			self.stateLock.Unlock()
			glog.V(2).Infof("[sc]discard %s\n", normalizedQuery)
			return
		}
		self.inFlightQuery = ""
		self.inFlightCancel = nil

		if err != nil {
			self.stateLock.Unlock()
			if errors.Is(err, ErrSuperseded) || errors.Is(err, context.Canceled) {
				return
			}
			callback(nil, err)
			return
		}

		self.insert(key, results)
		self.stateLock.Unlock()

		callback(slices.Clone(results), nil)
	}()
}

// must hold stateLock. Evicts the oldest-inserted entry when at
// capacity, so the cache never exceeds it
func (self *SearchCache) insert(key string, results []*UserSearchResult) {
	if _, ok := self.entries[key]; ok {
		return
	}
	if self.settings.CacheCapacity <= len(self.entryOrder) {
		oldestKey := self.entryOrder[0]
		self.entryOrder = self.entryOrder[1:]
		delete(self.entries, oldestKey)
		glog.V(2).Infof("[sc]evict %s\n", oldestKey)
	}
	self.entries[key] = results
	self.entryOrder = append(self.entryOrder, key)
}

// blocking wrapper for single-shot callers such as the ctl
func (self *SearchCache) SearchSync(query string) ([]*UserSearchResult, error) {
	type searchResult struct {
		results []*UserSearchResult
		err     error
	}
	c := make(chan searchResult, 1)
	self.Search(query, func(results []*UserSearchResult, err error) {
		c <- searchResult{results: results, err: err}
	})
	select {
	case r := <-c:
		return r.results, r.err
	case <-self.ctx.Done():
		return nil, self.ctx.Err()
	}
}

func (self *SearchCache) CacheSize() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.entryOrder)
}

func (self *SearchCache) Close() {
	self.cancel()
}

// upstream input glue for the search box: calls through once per
// DebounceTimeout of quiescence. The cache itself never debounces.
type SearchDebouncer struct {
	timeout  time.Duration
	callback func(query string)

	stateLock sync.Mutex
	gen       int
	timer     *time.Timer
	closed    bool
}

func NewSearchDebouncer(timeout time.Duration, callback func(query string)) *SearchDebouncer {
	return &SearchDebouncer{
		timeout:  timeout,
		callback: callback,
	}
}

// (re)arm with the latest input value
func (self *SearchDebouncer) Update(query string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed {
		return
	}
	if self.timer != nil {
		self.timer.Stop()
	}
	self.gen += 1
	gen := self.gen
	self.timer = time.AfterFunc(self.timeout, func() {
		self.fire(gen, query)
	})
}

func (self *SearchDebouncer) fire(gen int, query string) {
	self.stateLock.Lock()
	if self.closed || gen != self.gen {
		self.stateLock.Unlock()
		return
	}
	self.timer = nil
	self.stateLock.Unlock()

	self.callback(query)
}

func (self *SearchDebouncer) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.closed = true
	if self.timer != nil {
		self.timer.Stop()
		self.timer = nil
	}
}
