/*
Copyright 2024 Andes Labs Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package campus

import (
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/andeslabs/campus/model"
)

// AlertFunc is the side channel the ledger notifies when an error-class event
// is appended. Implementations must tolerate being called concurrently; the
// ledger never waits on them.
type AlertFunc func(event model.PaymentEvent)

// errorEventMarkers classify event types that should reach an operator
// channel. Matched by substring so callers can namespace freely.
var errorEventMarkers = []string{"mismatch", "exhausted", "failed", "error"}

// EventLedger is a bounded, append-and-query log of payment and provisioning
// lifecycle events. It behaves as a ring: appends beyond capacity evict the
// oldest entry and insertion order is preserved among retained entries. One
// instance is owned by the Campus service; nothing reaches into its state
// directly.
type EventLedger struct {
	mu        sync.RWMutex
	maxEvents int
	buf       []model.PaymentEvent
	head      int
	size      int
	alert     AlertFunc
}

// NewEventLedger creates a ledger retaining at most maxEvents entries. alert
// may be nil.
func NewEventLedger(maxEvents int, alert AlertFunc) *EventLedger {
	if maxEvents <= 0 {
		maxEvents = 1
	}
	return &EventLedger{
		maxEvents: maxEvents,
		buf:       make([]model.PaymentEvent, maxEvents),
		alert:     alert,
	}
}

// Append records an event, stamping the time if unset. Error-class events
// trigger the alert side channel asynchronously; a failing or slow alert never
// blocks or fails the append.
func (l *EventLedger) Append(event model.PaymentEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.mu.Lock()
	if l.size == l.maxEvents {
		l.buf[l.head] = event
		l.head = (l.head + 1) % l.maxEvents
	} else {
		l.buf[(l.head+l.size)%l.maxEvents] = event
		l.size++
	}
	l.mu.Unlock()

	if l.alert != nil && isErrorClass(event.Type) {
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					logrus.WithField("event_type", event.Type).Errorf("event alert panicked: %v", rec)
				}
			}()
			l.alert(event)
		}()
	}
}

// Len returns the number of retained events.
func (l *EventLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Recent produces a lazy, finite, restartable sequence of the most recent
// events, newest first, yielding at most limit entries.
func (l *EventLedger) Recent(limit int) iter.Seq[model.PaymentEvent] {
	snapshot := l.snapshot()
	return func(yield func(model.PaymentEvent) bool) {
		n := limit
		if n > len(snapshot) {
			n = len(snapshot)
		}
		for i := 0; i < n; i++ {
			if !yield(snapshot[len(snapshot)-1-i]) {
				return
			}
		}
	}
}

// Find produces the retained events matching criteria, newest first.
func (l *EventLedger) Find(criteria model.EventFilter) iter.Seq[model.PaymentEvent] {
	snapshot := l.snapshot()
	return func(yield func(model.PaymentEvent) bool) {
		for i := len(snapshot) - 1; i >= 0; i-- {
			if !criteria.Match(snapshot[i]) {
				continue
			}
			if !yield(snapshot[i]) {
				return
			}
		}
	}
}

// snapshot copies retained events in insertion order so iteration never holds
// the ledger lock.
func (l *EventLedger) snapshot() []model.PaymentEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.PaymentEvent, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.head+i)%l.maxEvents]
	}
	return out
}

func isErrorClass(eventType string) bool {
	t := strings.ToLower(eventType)
	for _, marker := range errorEventMarkers {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}
