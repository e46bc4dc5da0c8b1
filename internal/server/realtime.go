package server

import (
	"context"
	"sort"
	"sync"
	"time"
)

const (
	RealtimeEventTabChanged = "tab-change"
	realtimeEventHeartbeat  = "heartbeat"
	realtimeSourceBackend   = "hackboard-backend"
)

// Tab change actions carried by RealtimeMessage.Action.
const (
	TabActionAppend  = "append"
	TabActionReplace = "replace"
	TabActionDelete  = "delete"
)

type RealtimeMessage struct {
	Tab       string
	EventType string
	Action    string
	Positions []int
	Timestamp time.Time
}

type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for one tab until ctx is done or cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, tab string) (<-chan RealtimeMessage, func()) {
	if tab == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(tab, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(tab, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers message to every subscriber of its tab. Slow subscribers drop messages.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.Tab == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Tab]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports how many listeners a tab has.
func (d *RealtimeDispatcher) SubscriberCount(tab string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[tab])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(tab string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[tab]; !ok {
		d.subscribers[tab] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[tab][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(tab string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[tab]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, tab)
		}
	}
	d.mu.Unlock()
}

// newTabChange builds a tab-change message with positions sorted and deduplicated.
func newTabChange(tab, action string, positions []int, now time.Time) RealtimeMessage {
	var unique []int
	if len(positions) > 0 {
		sorted := append([]int(nil), positions...)
		sort.Ints(sorted)
		for index, position := range sorted {
			if position < 1 {
				continue
			}
			if index > 0 && sorted[index-1] == position {
				continue
			}
			unique = append(unique, position)
		}
	}
	return RealtimeMessage{
		Tab:       tab,
		EventType: RealtimeEventTabChanged,
		Action:    action,
		Positions: unique,
		Timestamp: now.UTC(),
	}
}
