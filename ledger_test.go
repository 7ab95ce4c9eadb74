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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/andeslabs/campus/model"
)

func collectEvents(seq func(yield func(model.PaymentEvent) bool)) []model.PaymentEvent {
	var out []model.PaymentEvent
	seq(func(e model.PaymentEvent) bool {
		out = append(out, e)
		return true
	})
	return out
}

func TestEventLedgerAppendAndLen(t *testing.T) {
	ledger := NewEventLedger(10, nil)

	assert.Equal(t, 0, ledger.Len())

	for i := 0; i < 5; i++ {
		ledger.Append(model.PaymentEvent{Type: EventNotificationReceived, Reference: fmt.Sprintf("ref-%d", i)})
	}
	assert.Equal(t, 5, ledger.Len())
}

func TestEventLedgerEvictsOldest(t *testing.T) {
	ledger := NewEventLedger(3, nil)

	for i := 0; i < 5; i++ {
		ledger.Append(model.PaymentEvent{Type: EventNotificationReceived, Reference: fmt.Sprintf("ref-%d", i)})
	}

	assert.Equal(t, 3, ledger.Len())

	events := collectEvents(ledger.Recent(3))
	assert.Len(t, events, 3)
	// Newest first; ref-0 and ref-1 were evicted.
	assert.Equal(t, "ref-4", events[0].Reference)
	assert.Equal(t, "ref-3", events[1].Reference)
	assert.Equal(t, "ref-2", events[2].Reference)
}

func TestEventLedgerRecentLimit(t *testing.T) {
	ledger := NewEventLedger(10, nil)
	for i := 0; i < 6; i++ {
		ledger.Append(model.PaymentEvent{Type: EventNotificationReceived, Reference: fmt.Sprintf("ref-%d", i)})
	}

	events := collectEvents(ledger.Recent(2))
	assert.Len(t, events, 2)
	assert.Equal(t, "ref-5", events[0].Reference)
	assert.Equal(t, "ref-4", events[1].Reference)

	// A limit beyond the retained count yields everything.
	assert.Len(t, collectEvents(ledger.Recent(100)), 6)
}

func TestEventLedgerIterationIsRestartable(t *testing.T) {
	ledger := NewEventLedger(10, nil)
	for i := 0; i < 4; i++ {
		ledger.Append(model.PaymentEvent{Type: EventNotificationReceived, Reference: fmt.Sprintf("ref-%d", i)})
	}

	seq := ledger.Recent(4)
	first := collectEvents(seq)
	second := collectEvents(seq)
	assert.Equal(t, first, second)

	// Early termination does not poison the sequence.
	var partial []model.PaymentEvent
	seq(func(e model.PaymentEvent) bool {
		partial = append(partial, e)
		return len(partial) < 2
	})
	assert.Len(t, partial, 2)
	assert.Equal(t, first, collectEvents(seq))
}

func TestEventLedgerStampsTimestamp(t *testing.T) {
	ledger := NewEventLedger(10, nil)

	before := time.Now()
	ledger.Append(model.PaymentEvent{Type: EventNotificationReceived, Reference: "ref-1"})

	events := collectEvents(ledger.Recent(1))
	assert.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.Before(before))
}

func TestEventLedgerFind(t *testing.T) {
	ledger := NewEventLedger(20, nil)
	ledger.Append(model.PaymentEvent{Type: EventNotificationReceived, UserID: "user-1", Reference: "ORD-1"})
	ledger.Append(model.PaymentEvent{Type: EventProvisionSucceeded, UserID: "user-1", Reference: "job-1"})
	ledger.Append(model.PaymentEvent{Type: EventProvisionExhausted, UserID: "user-2", Reference: "job-2"})

	byUser := collectEvents(ledger.Find(model.EventFilter{UserID: "user-1"}))
	assert.Len(t, byUser, 2)

	byType := collectEvents(ledger.Find(model.EventFilter{TypeContains: "provision"}))
	assert.Len(t, byType, 2)
	assert.Equal(t, EventProvisionExhausted, byType[0].Type)

	byRef := collectEvents(ledger.Find(model.EventFilter{ReferenceContains: "job-2"}))
	assert.Len(t, byRef, 1)
	assert.Equal(t, "user-2", byRef[0].UserID)

	assert.Empty(t, collectEvents(ledger.Find(model.EventFilter{UserID: "user-3"})))
}

func TestEventLedgerAlertsOnErrorEvents(t *testing.T) {
	alerts := make(chan model.PaymentEvent, 4)
	ledger := NewEventLedger(10, func(e model.PaymentEvent) {
		alerts <- e
	})

	ledger.Append(model.PaymentEvent{Type: EventNotificationReceived, Reference: "ref-1"})
	ledger.Append(model.PaymentEvent{Type: EventSignatureMismatch, Reference: "ref-2"})
	ledger.Append(model.PaymentEvent{Type: EventProvisionExhausted, Reference: "job-1"})

	got := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case e := <-alerts:
			got[e.Type] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for alert")
		}
	}
	assert.True(t, got[EventSignatureMismatch])
	assert.True(t, got[EventProvisionExhausted])

	select {
	case e := <-alerts:
		t.Fatalf("unexpected alert for %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventLedgerAlertPanicDoesNotCrash(t *testing.T) {
	ledger := NewEventLedger(10, func(e model.PaymentEvent) {
		panic("alert channel down")
	})

	ledger.Append(model.PaymentEvent{Type: EventSignatureMismatch, Reference: "ref-1"})

	// Give the alert goroutine time to panic and recover.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ledger.Len())
}
