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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/andeslabs/campus/config"
	"github.com/andeslabs/campus/model"
)

// ErrDuplicateJob is returned when a provisioning job for the same identity
// is already in flight. The caller should treat the earlier job's outcome as
// its own and poll the ledger.
var ErrDuplicateJob = errors.New("provisioning already in flight for this identity")

// RetryOrchestrator drives the at-least-once user provisioning workflow
// against the LMS. Each job runs detached from the request that created it;
// outcomes are reported by appending to the event ledger, never returned
// synchronously. Per-identity serialization guarantees that two jobs for the
// same email and user id never run concurrent attempt sequences.
type RetryOrchestrator struct {
	lms    AccountProvisioner
	ledger *EventLedger

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

func NewRetryOrchestrator(lms AccountProvisioner, ledger *EventLedger) *RetryOrchestrator {
	return &RetryOrchestrator{
		lms:      lms,
		ledger:   ledger,
		inflight: make(map[string]struct{}),
	}
}

// ProvisionWithRetry starts the workflow for a job and returns immediately.
// A second job for an identity that is already in flight is rejected with
// ErrDuplicateJob. A job whose identity already has a recorded success is
// short-circuited to SUCCEEDED without touching the remote system.
//
// The job is owned by the workflow after a nil return; callers query the
// ledger (or JobStatus) for the outcome rather than reading the job.
func (o *RetryOrchestrator) ProvisionWithRetry(ctx context.Context, job *model.ProvisioningJob) error {
	if job.JobID == "" {
		job.JobID = model.GenerateUUIDWithSuffix("job")
	}
	if job.Status == "" {
		job.Status = model.StatusPending
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = 1
	}
	if job.RetryDelay <= 0 {
		job.RetryDelay = time.Second
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	key := job.Identity()

	o.mu.Lock()
	if _, busy := o.inflight[key]; busy {
		o.mu.Unlock()
		o.ledger.Append(model.PaymentEvent{
			Type:      EventProvisionDuplicate,
			UserID:    job.UserID,
			Reference: job.JobID,
			Payload:   map[string]interface{}{"identity": key},
		})
		return errors.Wrapf(ErrDuplicateJob, "identity %s", key)
	}
	o.inflight[key] = struct{}{}
	o.mu.Unlock()

	if o.alreadyProvisioned(job.UserID) {
		o.release(key)
		job.Status = model.StatusSucceeded
		o.ledger.Append(model.PaymentEvent{
			Type:      EventProvisionExists,
			UserID:    job.UserID,
			Reference: job.JobID,
			Payload:   map[string]interface{}{"identity": key, "source": "ledger"},
		})
		return nil
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(key)
		o.run(ctx, job)
	}()
	return nil
}

// run executes the bounded attempt loop: a fixed delay between attempts, not
// an exponential one, per configuration. Transient failures consume retry
// budget; non-retryable failures and configuration errors terminate
// immediately regardless of remaining attempts.
func (o *RetryOrchestrator) run(ctx context.Context, job *model.ProvisioningJob) {
	attempt := 0
	nonRetryable := false

	operation := func() error {
		attempt++
		started := time.Now()

		logrus.WithFields(logrus.Fields{
			"job_id":  job.JobID,
			"email":   job.Email,
			"attempt": attempt,
		}).Info("provisioning LMS account")

		result, err := o.lms.CreateAccount(ctx, AccountRequest{
			Username:  job.Username,
			Password:  job.Password,
			FirstName: job.FirstName,
			LastName:  job.LastName,
			Email:     job.Email,
			CourseID:  job.CourseID,
		})
		if err == nil {
			job.Attempts = append(job.Attempts, model.ProvisioningAttempt{
				AttemptNumber: attempt,
				StartedAt:     started,
				Outcome:       model.OutcomeSuccess,
			})
			job.Status = model.StatusSucceeded
			eventType := EventProvisionSucceeded
			payload := map[string]interface{}{
				"remote_id": result.RemoteID,
				"attempts":  attempt,
			}
			if result.AlreadyExists {
				eventType = EventProvisionExists
				payload["source"] = "remote"
			}
			o.ledger.Append(model.PaymentEvent{
				Type:      eventType,
				UserID:    job.UserID,
				Reference: job.JobID,
				Payload:   payload,
			})
			o.enrollConfiguredCategory(ctx, job, result)
			return nil
		}

		fatal := errors.Is(err, ErrNoMoodleToken)
		var rerr *RemoteError
		if !fatal && errors.As(err, &rerr) && !rerr.Retryable {
			fatal = true
		}

		outcome := model.OutcomeRetryableFailure
		if fatal {
			outcome = model.OutcomeFatalFailure
		}
		job.Attempts = append(job.Attempts, model.ProvisioningAttempt{
			AttemptNumber: attempt,
			StartedAt:     started,
			Outcome:       outcome,
			ErrorDetail:   err.Error(),
		})
		o.ledger.Append(model.PaymentEvent{
			Type:      EventProvisionAttempt,
			UserID:    job.UserID,
			Reference: job.JobID,
			Payload: map[string]interface{}{
				"attempt": attempt,
				"outcome": outcome,
				"error":   err.Error(),
			},
		})

		if fatal {
			nonRetryable = true
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(job.RetryDelay), uint64(job.MaxRetries-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		job.Status = model.StatusExhausted
		o.ledger.Append(model.PaymentEvent{
			Type:      EventProvisionExhausted,
			UserID:    job.UserID,
			Reference: job.JobID,
			Payload: map[string]interface{}{
				"attempts":      attempt,
				"max_retries":   job.MaxRetries,
				"error":         err.Error(),
				"non_retryable": nonRetryable,
			},
		})
		logrus.WithFields(logrus.Fields{
			"job_id":   job.JobID,
			"attempts": attempt,
		}).Errorf("provisioning exhausted: %v", err)
	}
}

// JobStatus derives a job's state from its ledger trail. It returns one of
// the job statuses, or an empty string when the job id is unknown.
func (o *RetryOrchestrator) JobStatus(jobID string) string {
	for event := range o.ledger.Find(model.EventFilter{ReferenceContains: jobID}) {
		switch event.Type {
		case EventProvisionSucceeded, EventProvisionExists:
			return model.StatusSucceeded
		case EventProvisionExhausted:
			return model.StatusExhausted
		case EventProvisionRequested, EventProvisionAttempt, EventProvisionDuplicate:
			return model.StatusPending
		}
	}
	return ""
}

// Wait blocks until every in-flight workflow has finished.
func (o *RetryOrchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown waits for outstanding workflows, giving up when the context
// expires. Jobs cut off by process shutdown are an accepted loss: the remote
// side effect may have happened, and a re-run tolerates "already exists".
func (o *RetryOrchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enrollConfiguredCategory enrolls a fresh account in every course under the
// configured category. Best effort: the account already exists, so enrollment
// failures are logged rather than failing the workflow.
func (o *RetryOrchestrator) enrollConfiguredCategory(ctx context.Context, job *model.ProvisioningJob, result *AccountResult) {
	cfg, err := config.Fetch()
	if err != nil || cfg.Moodle.CategoryID == "" || result.AlreadyExists {
		return
	}

	report, err := o.lms.EnrollInCategory(ctx, result.RemoteID, cfg.Moodle.CategoryID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"job_id":      job.JobID,
			"category_id": cfg.Moodle.CategoryID,
		}).Warnf("category enrollment failed: %v", err)
		return
	}
	if len(report.Failures) > 0 {
		logrus.WithFields(logrus.Fields{
			"job_id":   job.JobID,
			"enrolled": len(report.Enrolled),
			"failed":   len(report.Failures),
		}).Warn("category enrollment partially failed")
	}
}

func (o *RetryOrchestrator) alreadyProvisioned(userID string) bool {
	if userID == "" {
		return false
	}
	for event := range o.ledger.Find(model.EventFilter{UserID: userID}) {
		if event.Type == EventProvisionSucceeded || event.Type == EventProvisionExists {
			return true
		}
	}
	return false
}

func (o *RetryOrchestrator) release(key string) {
	o.mu.Lock()
	delete(o.inflight, key)
	o.mu.Unlock()
}
