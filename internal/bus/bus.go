// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus fans task and account events out to in-process subscribers.
// Publishing never blocks; a subscriber that falls behind loses events.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/metrics"
)

type Topic string

const (
	TopicProgress        Topic = "progress"
	TopicCompleted       Topic = "completed"
	TopicFailed          Topic = "failed"
	TopicCancelled       Topic = "cancelled"
	TopicBalanceUpdated  Topic = "balance_updated"
	TopicHistoryUpdated  Topic = "history_updated"
	TopicBillingDeferred Topic = "billing_deferred"
	TopicBillingFailed   Topic = "billing_failed"
)

// AllTopics lists every topic in a stable order.
var AllTopics = []Topic{
	TopicProgress, TopicCompleted, TopicFailed, TopicCancelled,
	TopicBalanceUpdated, TopicHistoryUpdated, TopicBillingDeferred, TopicBillingFailed,
}

// Event is one published notification. Seq is assigned by the bus and
// increases across all topics.
type Event struct {
	Seq      uint64       `json:"seq"`
	Topic    Topic        `json:"topic"`
	At       time.Time    `json:"at"`
	TaskID   string       `json:"task_id,omitempty"`
	Task     *domain.Task `json:"task,omitempty"`
	Progress float64      `json:"progress,omitempty"`
	Error    string       `json:"error,omitempty"`
	Code     string       `json:"code,omitempty"`
	Balance  int64        `json:"balance,omitempty"`
	OrderID  string       `json:"order_id,omitempty"`
}

const (
	DefaultBuffer = 64
	dropLogEvery  = 100
)

type Bus struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	seq    uint64
	closed bool

	dropped atomic.Uint64
}

func New() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// Publish stamps ev and offers it to every matching subscriber.
func (b *Bus) Publish(ev Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		metrics.IncBusDropReason(string(ev.Topic), "closed")
		return ev
	}
	b.seq++
	ev.Seq = b.seq
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	metrics.IncBusPublished(string(ev.Topic))

	for _, s := range b.subs {
		if !s.wants(ev.Topic) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.drop(s, ev)
		}
	}
	return ev
}

func (b *Bus) drop(s *Subscription, ev Event) {
	metrics.IncBusDropReason(string(ev.Topic), "buffer_full")
	s.dropped.Add(1)
	if n := b.dropped.Add(1); n%dropLogEvery == 1 {
		logger := log.WithComponent("bus")
		logger.Warn().
			Str("topic", string(ev.Topic)).
			Str("subscriber", s.id).
			Uint64("dropped", n).
			Msg("subscriber buffer full, dropping event")
	}
}

// Subscribe registers a subscriber for topics, or all topics when none are
// given. buffer <= 0 selects DefaultBuffer.
func (b *Bus) Subscribe(buffer int, topics ...Topic) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{
		id: uuid.NewString(),
		b:  b,
		ch: make(chan Event, buffer),
	}
	if len(topics) > 0 {
		s.topics = make(map[Topic]struct{}, len(topics))
		for _, t := range topics {
			s.topics[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		s.done = true
		return s
	}
	b.subs[s.id] = s
	return s
}

// Close closes every subscription. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.done = true
		close(s.ch)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

type Subscription struct {
	id      string
	b       *Bus
	topics  map[Topic]struct{}
	ch      chan Event
	done    bool // guarded by b.mu
	dropped atomic.Uint64
}

func (s *Subscription) ID() string { return s.id }

// C is closed when the subscription or the bus is closed.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped counts events lost because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) wants(t Topic) bool {
	if s.topics == nil {
		return true
	}
	_, ok := s.topics[t]
	return ok
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	delete(s.b.subs, s.id)
	close(s.ch)
}
