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
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/andeslabs/campus/config"
	"github.com/andeslabs/campus/internal/cache"
	"github.com/andeslabs/campus/internal/notification"
	"github.com/andeslabs/campus/model"
)

// Campus represents the main struct for the Campus application.
type Campus struct {
	queue        *Queue
	limiter      *AdmissionLimiter
	ledger       *EventLedger
	signer       *SignatureEngine
	lms          AccountProvisioner
	orchestrator *RetryOrchestrator
	cache        cache.Cache
}

// NotificationReceipt summarizes how an incoming payment notification was
// handled.
type NotificationReceipt struct {
	Verified bool   `json:"verified"`
	Replayed bool   `json:"replayed"`
	Event    string `json:"event"`
}

const seenTransactionTTL = 24 * time.Hour

// NewCampus initializes a new instance of Campus from the loaded
// configuration. It wires the admission limiter, payment event ledger,
// signature engine, queue and the provisioning orchestrator. When lms is nil
// a Moodle client is built from the configuration; tests pass their own
// provisioner.
//
// Returns:
// - *Campus: A pointer to the newly created Campus instance.
// - error: An error if any of the initialization steps fail.
func NewCampus(lms AccountProvisioner) (*Campus, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	cacheInstance, err := cache.NewCache()
	if err != nil {
		return nil, err
	}

	if lms == nil {
		lms = NewMoodleClient(configuration.Moodle.Url, configuration.Moodle.Token, &http.Client{
			Timeout: time.Duration(configuration.Moodle.TimeoutSec) * time.Second,
		})
	}

	ledger := NewEventLedger(configuration.Ledger.MaxEvents, func(event model.PaymentEvent) {
		if err := SendAlert(OperatorAlert{Event: "ledger." + event.Type, Payload: event}); err != nil {
			notification.NotifyError(err)
		}
	})

	limiter := NewAdmissionLimiter(configuration.RateLimit.Window(), *configuration.RateLimit.UniqueTokenPerInterval)
	newQueue := NewQueue(configuration)
	orchestrator := NewRetryOrchestrator(lms, ledger)

	notification.RegisterWebhookSender(func(event string, payload interface{}) error {
		return SendAlert(OperatorAlert{Event: event, Payload: payload})
	})

	newCampus := &Campus{
		queue:        newQueue,
		limiter:      limiter,
		ledger:       ledger,
		signer:       &SignatureEngine{},
		lms:          lms,
		orchestrator: orchestrator,
		cache:        cacheInstance,
	}
	return newCampus, nil
}

// Limiter returns the admission limiter guarding inbound notifications.
func (c *Campus) Limiter() *AdmissionLimiter {
	return c.limiter
}

// Ledger returns the bounded payment event ledger.
func (c *Campus) Ledger() *EventLedger {
	return c.ledger
}

// Signer returns the payment signature engine.
func (c *Campus) Signer() *SignatureEngine {
	return c.signer
}

// Orchestrator returns the retry orchestrator that drives provisioning.
func (c *Campus) Orchestrator() *RetryOrchestrator {
	return c.orchestrator
}

// SubmitProvisioning applies configured defaults to the job, records the
// request in the ledger and hands the job to the queue. The worker process
// picks it up and runs the retry loop.
func (c *Campus) SubmitProvisioning(ctx context.Context, job *model.ProvisioningJob) error {
	configuration, err := config.Fetch()
	if err != nil {
		return err
	}

	if job.JobID == "" {
		job.JobID = model.GenerateUUIDWithSuffix("job")
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = configuration.Provision.MaxRetries
	}
	if job.RetryDelay <= 0 {
		job.RetryDelay = configuration.Provision.RetryDelay()
	}
	job.Status = model.StatusPending
	job.CreatedAt = time.Now()

	c.ledger.Append(model.PaymentEvent{
		Type:      EventProvisionRequested,
		UserID:    job.UserID,
		Reference: job.JobID,
		Payload: map[string]interface{}{
			"email":     job.Email,
			"course_id": job.CourseID,
		},
	})

	return c.queue.EnqueueProvisioning(ctx, job)
}

// ProcessPaymentNotification verifies the gateway signature on an inbound
// notification, suppresses replays of a transaction id already seen, and
// records the outcome in the ledger. It never returns an error for a bad
// signature; callers acknowledge the notification either way so the gateway
// does not keep redelivering it.
func (c *Campus) ProcessPaymentNotification(ctx context.Context, n *model.PaymentNotification) (*NotificationReceipt, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	if !c.signer.VerifyNotification(*n, configuration.Payment.ApiKey) {
		c.ledger.Append(model.PaymentEvent{
			Type:      EventSignatureMismatch,
			Reference: n.ReferenceCode,
			Payload: map[string]interface{}{
				"merchant_id":    n.MerchantID,
				"transaction_id": n.TransactionID,
				"state":          n.StatusCode,
			},
		})
		return &NotificationReceipt{Verified: false, Event: EventSignatureMismatch}, nil
	}

	if n.TransactionID != "" {
		if c.seenTransaction(ctx, n.TransactionID) {
			c.ledger.Append(model.PaymentEvent{
				Type:      EventNotificationReplayed,
				Reference: n.ReferenceCode,
				Payload:   map[string]interface{}{"transaction_id": n.TransactionID},
			})
			return &NotificationReceipt{Verified: true, Replayed: true, Event: EventNotificationReplayed}, nil
		}
		if err := c.markTransaction(ctx, n.TransactionID); err != nil {
			return nil, err
		}
	}

	c.ledger.Append(model.PaymentEvent{
		Type:      EventNotificationReceived,
		Reference: n.ReferenceCode,
		Payload: map[string]interface{}{
			"merchant_id":    n.MerchantID,
			"transaction_id": n.TransactionID,
			"amount":         n.Amount,
			"currency":       n.Currency,
			"state":          n.StatusCode,
		},
	})
	return &NotificationReceipt{Verified: true, Event: EventNotificationReceived}, nil
}

// seenTransaction reports whether a gateway transaction id has already been
// processed within the replay window.
func (c *Campus) seenTransaction(ctx context.Context, transactionID string) bool {
	return c.cache.Has(ctx, transactionKey(transactionID))
}

func (c *Campus) markTransaction(ctx context.Context, transactionID string) error {
	return c.cache.Set(ctx, transactionKey(transactionID), true, seenTransactionTTL)
}

func transactionKey(transactionID string) string {
	return fmt.Sprintf("campus:payment:txn:%s", transactionID)
}

// Shutdown drains the orchestrator and closes the queue client.
func (c *Campus) Shutdown(ctx context.Context) error {
	if err := c.orchestrator.Shutdown(ctx); err != nil {
		return err
	}
	return c.queue.Client.Close()
}
