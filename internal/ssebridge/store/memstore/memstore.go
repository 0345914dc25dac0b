// Package memstore is an in-process implementation of store.Store used by
// unit and property tests so they exercise bridge logic without a running
// Redis instance. It is not a production backend: one mutex guards all
// keyed state, a second guards the subscriber table, and pub/sub fan-out is
// an in-memory channel broadcaster.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/store"
)

type hashEntry struct {
	fields  map[string]string
	expires time.Time // zero means no expiry
}

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu    sync.Mutex
	hash  map[string]*hashEntry
	lists map[string][]string // index 0 = most recently LPushed

	subMu sync.Mutex
	subs  map[string]map[int]chan string
	nextID int
}

func New() *Store {
	return &Store{
		hash:  make(map[string]*hashEntry),
		lists: make(map[string][]string),
		subs:  make(map[string]map[int]chan string),
	}
}

func (s *Store) expired(e *hashEntry) bool {
	return !e.expires.IsZero() && time.Now().After(e.expires)
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.hash[key]
	if !ok || s.expired(e) {
		e = &hashEntry{fields: make(map[string]string)}
		s.hash[key] = e
	}
	for k, v := range fields {
		e.fields[k] = v
	}
	return nil
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.hash[key]
	if !ok || s.expired(e) {
		return "", false, nil
	}
	v, ok := e.fields[field]
	return v, ok, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.hash[key]
	if !ok || s.expired(e) {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out, nil
}

func (s *Store) HKeys(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.hash[key]
	if !ok || s.expired(e) {
		return nil, nil
	}
	out := make([]string, 0, len(e.fields))
	for k := range e.fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) HLen(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.hash[key]
	if !ok || s.expired(e) {
		return 0, nil
	}
	return int64(len(e.fields)), nil
}

func (s *Store) HExists(ctx context.Context, key, field string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.hash[key]
	if !ok || s.expired(e) {
		return false, nil
	}
	_, ok = e.fields[field]
	return ok, nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.hash[key]
	if !ok || s.expired(e) {
		return nil
	}
	for _, f := range fields {
		delete(e.fields, f)
	}
	if len(e.fields) == 0 {
		delete(s.hash, key)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hash, key)
	delete(s.lists, key)
	return nil
}

func (s *Store) LPush(ctx context.Context, key string, values ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		s.lists[key] = append([]string{v}, s.lists[key]...)
	}
	return nil
}

func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.lists[key]
	n := int64(len(cur))
	if n == 0 {
		return nil
	}
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		delete(s.lists, key)
		return nil
	}
	s.lists[key] = append([]string(nil), cur[start:stop+1]...)
	return nil
}

func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.lists[key]
	n := int64(len(cur))
	if n == 0 {
		return nil, nil
	}
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, cur[start:stop+1])
	return out, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.hash[key]
	if !ok {
		return nil
	}
	e.expires = time.Now().Add(ttl)
	return nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.hash[key]
	if !ok || s.expired(e) {
		return -2 * time.Second, nil
	}
	if e.expires.IsZero() {
		return -1 * time.Second, nil
	}
	return time.Until(e.expires), nil
}

func (s *Store) Publish(ctx context.Context, channel, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs[channel] {
		select {
		case ch <- message:
		default:
		}
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, channel string) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan string, 64)
	if s.subs[channel] == nil {
		s.subs[channel] = make(map[int]chan string)
	}
	s.subs[channel][id] = ch
	s.subMu.Unlock()

	sub := &subscription{store: s, channel: channel, id: id, ch: ch}
	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

type subscription struct {
	store   *Store
	channel string
	id      int
	ch      chan string
	once    sync.Once
}

func (s *subscription) Channel() <-chan string { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.store.subMu.Lock()
		defer s.store.subMu.Unlock()
		delete(s.store.subs[s.channel], s.id)
		close(s.ch)
	})
	return nil
}

func (s *Store) ScanMatch(ctx context.Context, pattern string, fn func(key string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	keys := make([]string, 0, len(s.hash))
	for k, e := range s.hash {
		if s.expired(e) {
			continue
		}
		if globMatch(pattern, k) {
			keys = append(keys, k)
		}
	}
	s.mu.Unlock()
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

// globMatch supports the subset of Redis glob patterns the bridge uses:
// a literal prefix followed by a single trailing "*".
func globMatch(pattern, key string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == key
	}
	prefix := strings.TrimSuffix(pattern, "*")
	return strings.HasPrefix(key, prefix)
}
