package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	str      string
	list     []string
	isList   bool
	expireAt time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// MemoryStore is a single-process Store with the same atomicity guarantees
// as RedisStore: every operation runs under one mutex. Expiry is evaluated
// lazily against Now.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	subs    map[string]map[*memSubscription]struct{}
	closed  bool

	// Now is the clock used for expiry. Tests may replace it.
	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		subs:    make(map[string]map[*memSubscription]struct{}),
		Now:     time.Now,
	}
}

// live returns the entry for key, dropping it first if it expired. Callers hold mu.
func (s *MemoryStore) live(key string) *memEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(s.Now()) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.Now().Add(ttl)
}

func (s *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return ErrUnavailable
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return "", err
	}
	e := s.live(key)
	if e == nil || e.isList {
		return "", ErrNil
	}
	return e.str, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.entries[key] = &memEntry{str: value, expireAt: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	return s.live(key) != nil, nil
}

// TTL reports the remaining lifetime of key, or a negative value when the key
// is missing or has no expiry.
func (s *MemoryStore) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key)
	if e == nil || e.expireAt.IsZero() {
		return -1
	}
	return e.expireAt.Sub(s.Now())
}

func (s *MemoryStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	e := s.live(key)
	if e == nil {
		s.entries[key] = &memEntry{str: "1", expireAt: s.deadline(ttl)}
		return 1, nil
	}
	n, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	e.str = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) listEntry(key string) *memEntry {
	e := s.live(key)
	if e == nil {
		e = &memEntry{isList: true}
		s.entries[key] = e
	}
	return e
}

func (s *MemoryStore) PushRanked(ctx context.Context, key string, rank int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	e := s.listEntry(key)
	elem := encodeRanked(rank, value)
	pos := 0
	for i := len(e.list) - 1; i >= 0; i-- {
		r, _, ok := decodeRanked(e.list[i])
		if !ok || r >= rank {
			pos = i + 1
			break
		}
	}
	e.list = append(e.list, "")
	copy(e.list[pos+1:], e.list[pos:])
	e.list[pos] = elem
	return nil
}

func (s *MemoryStore) PopN(ctx context.Context, key string, n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	e := s.live(key)
	if e == nil || n <= 0 || len(e.list) == 0 {
		return nil, nil
	}
	if n > len(e.list) {
		n = len(e.list)
	}
	out := stripRanks(e.list[:n])
	e.list = append([]string(nil), e.list[n:]...)
	if len(e.list) == 0 {
		delete(s.entries, key)
	}
	return out, nil
}

func (s *MemoryStore) LLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	e := s.live(key)
	if e == nil {
		return 0, nil
	}
	return int64(len(e.list)), nil
}

func (s *MemoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	e := s.live(key)
	if e == nil {
		return nil, nil
	}
	n := int64(len(e.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	return stripRanks(e.list[start : stop+1]), nil
}

func (s *MemoryStore) RPushCapped(ctx context.Context, key, value string, max int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	e := s.listEntry(key)
	e.list = append(e.list, value)
	if max > 0 && int64(len(e.list)) > max {
		e.list = append([]string(nil), e.list[int64(len(e.list))-max:]...)
	}
	return nil
}

func (s *MemoryStore) Transition(ctx context.Context, key, value string, ttl time.Duration, terminal []string) (TransitionResult, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return TransitionMissing, "", err
	}
	e := s.live(key)
	if e == nil || e.isList {
		return TransitionMissing, "", nil
	}
	for _, t := range terminal {
		if e.str == t {
			return TransitionTerminal, e.str, nil
		}
	}
	prev := e.str
	e.str = value
	if ttl > 0 {
		e.expireAt = s.deadline(ttl)
	}
	return TransitionApplied, prev, nil
}

func (s *MemoryStore) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	if s.live(key) != nil {
		return false, nil
	}
	s.entries[key] = &memEntry{str: token, expireAt: s.deadline(ttl)}
	return true, nil
}

func (s *MemoryStore) ReleaseLock(ctx context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if e := s.live(key); e != nil && e.str == token {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) Publish(ctx context.Context, channel, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	for sub := range s.subs[channel] {
		select {
		case sub.ch <- message:
		default:
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	sub := &memSubscription{store: s, channel: channel, ch: make(chan string, 64)}
	if s.subs[channel] == nil {
		s.subs[channel] = make(map[*memSubscription]struct{})
	}
	s.subs[channel][sub] = struct{}{}
	return sub, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check(ctx)
}

// Close makes every later call fail with ErrUnavailable, which lets tests
// exercise store outages.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for channel, subs := range s.subs {
		for sub := range subs {
			sub.closeLocked()
		}
		delete(s.subs, channel)
	}
	return nil
}

type memSubscription struct {
	store   *MemoryStore
	channel string
	ch      chan string
	closed  bool
}

func (m *memSubscription) C() <-chan string { return m.ch }

func (m *memSubscription) Close() error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if subs := m.store.subs[m.channel]; subs != nil {
		delete(subs, m)
		if len(subs) == 0 {
			delete(m.store.subs, m.channel)
		}
	}
	m.closeLocked()
	return nil
}

func (m *memSubscription) closeLocked() {
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
}

var _ Store = (*MemoryStore)(nil)
