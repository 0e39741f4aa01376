package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memoryValue struct {
	data     string
	deadline time.Time // zero means no expiry
}

func (v memoryValue) expired(now time.Time) bool {
	return !v.deadline.IsZero() && now.After(v.deadline)
}

type zmember struct {
	member string
	score  float64
}

type zsetValue struct {
	members  []zmember
	deadline time.Time
}

func (z *zsetValue) expired(now time.Time) bool {
	return !z.deadline.IsZero() && now.After(z.deadline)
}

type boundedList struct {
	items    []string
	deadline time.Time
}

func (l *boundedList) expired(now time.Time) bool {
	return !l.deadline.IsZero() && now.After(l.deadline)
}

// Memory is an in-process Store for tests and single-node deployments.
// Expiry is lazy: entries are checked on access and reaped by a janitor.
type Memory struct {
	mu     sync.RWMutex
	kv     map[string]memoryValue
	zsets  map[string]*zsetValue
	lists  map[string]*boundedList
	subs   map[string][]*memorySub
	closed bool
}

func NewMemory() *Memory {
	return &Memory{
		kv:    make(map[string]memoryValue),
		zsets: make(map[string]*zsetValue),
		lists: make(map[string]*boundedList),
		subs:  make(map[string][]*memorySub),
	}
}

// StartJanitor reaps expired entries every interval until ctx is done.
func (m *Memory) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				m.reap(now)
			}
		}
	}()
}

func (m *Memory) reap(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.kv {
		if v.expired(now) {
			delete(m.kv, k)
		}
	}
	for k, z := range m.zsets {
		if z.expired(now) {
			delete(m.zsets, k)
		}
	}
	for k, l := range m.lists {
		if l.expired(now) {
			delete(m.lists, k)
		}
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	v, ok := m.kv[key]
	m.mu.RUnlock()
	if !ok || v.expired(time.Now()) {
		return "", ErrNotFound
	}
	return v.data, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = memoryValue{data: value, deadline: deadlineFor(ttl)}
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.kv[key]; ok && !v.expired(time.Now()) {
		return false, nil
	}
	m.kv[key] = memoryValue{data: value, deadline: deadlineFor(ttl)}
	return true, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.kv, k)
		delete(m.zsets, k)
		delete(m.lists, k)
	}
	return nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if v, ok := m.kv[key]; ok && !v.expired(now) {
		v.deadline = deadlineFor(ttl)
		m.kv[key] = v
		return true, nil
	}
	if z, ok := m.zsets[key]; ok && !z.expired(now) {
		z.deadline = deadlineFor(ttl)
		return true, nil
	}
	if l, ok := m.lists[key]; ok && !l.expired(now) {
		l.deadline = deadlineFor(ttl)
		return true, nil
	}
	return false, nil
}

func (m *Memory) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	var out []string
	for k, v := range m.kv {
		if strings.HasPrefix(k, prefix) && !v.expired(now) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	return m.add(key, 1)
}

func (m *Memory) Decr(_ context.Context, key string) (int64, error) {
	return m.add(key, -1)
}

func (m *Memory) add(key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		cur      int64
		deadline time.Time
	)
	// An existing deadline survives the update, as it does in Redis.
	if v, ok := m.kv[key]; ok && !v.expired(time.Now()) {
		n, err := strconv.ParseInt(v.data, 10, 64)
		if err != nil {
			return 0, err
		}
		cur = n
		deadline = v.deadline
	}
	cur += delta
	m.kv[key] = memoryValue{data: strconv.FormatInt(cur, 10), deadline: deadline}
	return cur, nil
}

func (m *Memory) ZAddNX(_ context.Context, key, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok || z.expired(time.Now()) {
		z = &zsetValue{}
		m.zsets[key] = z
	}
	for _, existing := range z.members {
		if existing.member == member {
			return nil
		}
	}
	z.members = append(z.members, zmember{member: member, score: score})
	return nil
}

func (m *Memory) ZRem(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok || z.expired(time.Now()) {
		return nil
	}
	for i, existing := range z.members {
		if existing.member == member {
			z.members = append(z.members[:i:i], z.members[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) ZRange(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	z, ok := m.zsets[key]
	var zs []zmember
	if ok && !z.expired(time.Now()) {
		zs = make([]zmember, len(z.members))
		copy(zs, z.members)
	}
	m.mu.RUnlock()
	sort.SliceStable(zs, func(i, j int) bool { return zs[i].score < zs[j].score })
	out := make([]string, len(zs))
	for i, zm := range zs {
		out[i] = zm.member
	}
	return out, nil
}

func (m *Memory) AppendPublish(_ context.Context, bufKey, channel, value string, maxLen int64, ttl time.Duration) error {
	m.mu.Lock()
	l, ok := m.lists[bufKey]
	if !ok || l.expired(time.Now()) {
		l = &boundedList{}
		m.lists[bufKey] = l
	}
	l.items = append(l.items, value)
	if int64(len(l.items)) > maxLen {
		l.items = l.items[int64(len(l.items))-maxLen:]
	}
	l.deadline = deadlineFor(ttl)
	subs := append([]*memorySub(nil), m.subs[channel]...)
	m.mu.Unlock()

	for _, s := range subs {
		s.deliver(value)
	}
	return nil
}

func (m *Memory) ListRange(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lists[key]
	if !ok || l.expired(time.Now()) {
		return nil, nil
	}
	out := make([]string, len(l.items))
	copy(out, l.items)
	return out, nil
}

func (m *Memory) Publish(_ context.Context, channel, payload string) error {
	m.mu.RLock()
	subs := append([]*memorySub(nil), m.subs[channel]...)
	m.mu.RUnlock()
	for _, s := range subs {
		s.deliver(payload)
	}
	return nil
}

type memorySub struct {
	parent  *Memory
	channel string
	msgs    chan string
	once    sync.Once
}

func (s *memorySub) Messages() <-chan string { return s.msgs }

func (s *memorySub) deliver(payload string) {
	// Non-blocking: a stalled subscriber drops messages instead of wedging
	// publishers, mirroring real pub/sub semantics.
	select {
	case s.msgs <- payload:
	default:
	}
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.parent.mu.Lock()
		subs := s.parent.subs[s.channel]
		for i, sub := range subs {
			if sub == s {
				s.parent.subs[s.channel] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		s.parent.mu.Unlock()
		close(s.msgs)
	})
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := &memorySub{parent: m, channel: channel, msgs: make(chan string, 64)}
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], sub)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return sub, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func deadlineFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
