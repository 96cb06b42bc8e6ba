// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import "sync"

// Topic names one collection's update signal.
type Topic string

const (
	// TopicSites fires after any mutation of the sites collection.
	TopicSites Topic = "sites-updated"
	// TopicInspections fires after any mutation of the inspections collection.
	TopicInspections Topic = "inspections-updated"
)

// Notifier broadcasts payloadless collection-updated signals. Consumers
// re-query the store on every signal, which keeps the store the single
// source of truth. Signals coalesce: a subscriber that has not drained its
// channel holds at most one pending signal no matter how many were
// published in between.
type Notifier struct {
	mu   sync.Mutex
	subs map[Topic][]*Subscription
}

// Subscription delivers coalesced signals for one topic on C.
type Subscription struct {
	C <-chan struct{}

	ch    chan struct{}
	topic Topic
	n     *Notifier
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[Topic][]*Subscription)}
}

// Subscribe registers a new subscription for topic.
func (n *Notifier) Subscribe(topic Topic) *Subscription {
	s := &Subscription{ch: make(chan struct{}, 1), topic: topic, n: n}
	s.C = s.ch
	n.mu.Lock()
	n.subs[topic] = append(n.subs[topic], s)
	n.mu.Unlock()
	return s
}

// Publish signals every subscriber of topic. Publish never blocks; a
// subscriber with an undrained signal is skipped.
func (n *Notifier) Publish(topic Topic) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.subs[topic] {
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

// Close unregisters the subscription. No signals arrive after Close returns.
func (s *Subscription) Close() {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	subs := s.n.subs[s.topic]
	for i, sub := range subs {
		if sub == s {
			s.n.subs[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}
