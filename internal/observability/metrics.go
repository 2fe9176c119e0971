package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters. All methods tolerate a nil
// receiver so instrumentation points need no guards.
type Metrics struct {
	mu              sync.Mutex
	requestCount    map[string]int64
	errorCount      map[string]int64
	eventsPublished map[string]int64
	droppedSubs     map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]int64),
		errorCount:      make(map[string]int64),
		eventsPublished: make(map[string]int64),
		droppedSubs:     make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordEventPublished counts events published per topic.
func (m *Metrics) RecordEventPublished(topic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsPublished[topic]++
}

// RecordSubscriberDropped counts subscribers dropped for falling behind.
func (m *Metrics) RecordSubscriberDropped(topic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.droppedSubs[topic]++
}

// EventsPublished returns the publish count for a topic.
func (m *Metrics) EventsPublished(topic string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventsPublished[topic]
}

// SubscribersDropped returns the drop count for a topic.
func (m *Metrics) SubscribersDropped(topic string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.droppedSubs[topic]
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
