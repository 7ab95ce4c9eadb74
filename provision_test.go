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
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/andeslabs/campus/model"
)

type mockProvisioner struct {
	mu       sync.Mutex
	calls    []time.Time
	createFn func(ctx context.Context, req AccountRequest) (*AccountResult, error)
}

func (m *mockProvisioner) CreateAccount(ctx context.Context, req AccountRequest) (*AccountResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, time.Now())
	m.mu.Unlock()
	return m.createFn(ctx, req)
}

func (m *mockProvisioner) EnrollInCategory(ctx context.Context, remoteUserID, categoryID string) (*EnrollmentReport, error) {
	return &EnrollmentReport{}, nil
}

func (m *mockProvisioner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockProvisioner) callTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.calls...)
}

func testJob(userID string) *model.ProvisioningJob {
	return &model.ProvisioningJob{
		UserID:     userID,
		Email:      userID + "@example.edu",
		Username:   userID,
		FirstName:  "Ana",
		LastName:   "Rojas",
		CourseID:   "algebra-101",
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
	}
}

func ledgerEventTypes(ledger *EventLedger, jobID string) []string {
	var types []string
	for event := range ledger.Find(model.EventFilter{ReferenceContains: jobID}) {
		types = append(types, event.Type)
	}
	return types
}

func TestProvisionSucceedsFirstAttempt(t *testing.T) {
	ledger := NewEventLedger(50, nil)
	lms := &mockProvisioner{
		createFn: func(ctx context.Context, req AccountRequest) (*AccountResult, error) {
			return &AccountResult{RemoteID: "42"}, nil
		},
	}
	orch := NewRetryOrchestrator(lms, ledger)

	job := testJob("user-1")
	assert.NoError(t, orch.ProvisionWithRetry(context.Background(), job))
	orch.Wait()

	assert.Equal(t, 1, lms.callCount())
	assert.Equal(t, model.StatusSucceeded, orch.JobStatus(job.JobID))
	assert.Contains(t, ledgerEventTypes(ledger, job.JobID), EventProvisionSucceeded)
}

func TestProvisionRetriesTransientFailures(t *testing.T) {
	ledger := NewEventLedger(50, nil)
	attempts := 0
	var mu sync.Mutex
	lms := &mockProvisioner{
		createFn: func(ctx context.Context, req AccountRequest) (*AccountResult, error) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 2 {
				return nil, &RemoteError{Message: "gateway timeout", Retryable: true}
			}
			return &AccountResult{RemoteID: "42"}, nil
		},
	}
	orch := NewRetryOrchestrator(lms, ledger)

	job := testJob("user-1")
	assert.NoError(t, orch.ProvisionWithRetry(context.Background(), job))
	orch.Wait()

	assert.Equal(t, 2, lms.callCount())
	assert.Equal(t, model.StatusSucceeded, orch.JobStatus(job.JobID))
}

func TestProvisionExhaustsRetryBudget(t *testing.T) {
	ledger := NewEventLedger(50, nil)
	lms := &mockProvisioner{
		createFn: func(ctx context.Context, req AccountRequest) (*AccountResult, error) {
			return nil, &RemoteError{Code: "503", Message: "unavailable", Retryable: true}
		},
	}
	orch := NewRetryOrchestrator(lms, ledger)

	job := testJob("user-1")
	assert.NoError(t, orch.ProvisionWithRetry(context.Background(), job))
	orch.Wait()

	assert.Equal(t, 3, lms.callCount())
	assert.Equal(t, model.StatusExhausted, orch.JobStatus(job.JobID))
	assert.Contains(t, ledgerEventTypes(ledger, job.JobID), EventProvisionExhausted)

	// Attempts are spaced by the fixed retry delay.
	times := lms.callTimes()
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), 10*time.Millisecond)
	}
}

func TestProvisionStopsOnNonRetryableFailure(t *testing.T) {
	ledger := NewEventLedger(50, nil)
	lms := &mockProvisioner{
		createFn: func(ctx context.Context, req AccountRequest) (*AccountResult, error) {
			return nil, &RemoteError{Code: "invalidparameter", Message: "email rejected", Retryable: false}
		},
	}
	orch := NewRetryOrchestrator(lms, ledger)

	job := testJob("user-1")
	assert.NoError(t, orch.ProvisionWithRetry(context.Background(), job))
	orch.Wait()

	assert.Equal(t, 1, lms.callCount())
	assert.Equal(t, model.StatusExhausted, orch.JobStatus(job.JobID))
}

func TestProvisionStopsOnMissingToken(t *testing.T) {
	ledger := NewEventLedger(50, nil)
	lms := &mockProvisioner{
		createFn: func(ctx context.Context, req AccountRequest) (*AccountResult, error) {
			return nil, errors.Wrap(ErrNoMoodleToken, "create account")
		},
	}
	orch := NewRetryOrchestrator(lms, ledger)

	job := testJob("user-1")
	assert.NoError(t, orch.ProvisionWithRetry(context.Background(), job))
	orch.Wait()

	assert.Equal(t, 1, lms.callCount())
	assert.Equal(t, model.StatusExhausted, orch.JobStatus(job.JobID))
}

func TestProvisionTreatsExistingAccountAsSuccess(t *testing.T) {
	ledger := NewEventLedger(50, nil)
	lms := &mockProvisioner{
		createFn: func(ctx context.Context, req AccountRequest) (*AccountResult, error) {
			return &AccountResult{RemoteID: "42", AlreadyExists: true}, nil
		},
	}
	orch := NewRetryOrchestrator(lms, ledger)

	job := testJob("user-1")
	assert.NoError(t, orch.ProvisionWithRetry(context.Background(), job))
	orch.Wait()

	assert.Equal(t, model.StatusSucceeded, orch.JobStatus(job.JobID))
	assert.Contains(t, ledgerEventTypes(ledger, job.JobID), EventProvisionExists)
}

func TestProvisionRejectsConcurrentDuplicate(t *testing.T) {
	ledger := NewEventLedger(50, nil)
	release := make(chan struct{})
	lms := &mockProvisioner{
		createFn: func(ctx context.Context, req AccountRequest) (*AccountResult, error) {
			<-release
			return &AccountResult{RemoteID: "42"}, nil
		},
	}
	orch := NewRetryOrchestrator(lms, ledger)

	first := testJob("user-1")
	assert.NoError(t, orch.ProvisionWithRetry(context.Background(), first))

	second := testJob("user-1")
	err := orch.ProvisionWithRetry(context.Background(), second)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateJob))

	close(release)
	orch.Wait()

	assert.Equal(t, 1, lms.callCount())
	assert.Contains(t, ledgerEventTypes(ledger, second.JobID), EventProvisionDuplicate)
}

func TestProvisionShortCircuitsAlreadyProvisionedIdentity(t *testing.T) {
	ledger := NewEventLedger(50, nil)
	lms := &mockProvisioner{
		createFn: func(ctx context.Context, req AccountRequest) (*AccountResult, error) {
			return &AccountResult{RemoteID: "42"}, nil
		},
	}
	orch := NewRetryOrchestrator(lms, ledger)

	first := testJob("user-1")
	assert.NoError(t, orch.ProvisionWithRetry(context.Background(), first))
	orch.Wait()
	assert.Equal(t, 1, lms.callCount())

	// A later job for the same user resolves from the ledger without a
	// remote call.
	second := testJob("user-1")
	assert.NoError(t, orch.ProvisionWithRetry(context.Background(), second))
	orch.Wait()

	assert.Equal(t, 1, lms.callCount())
	assert.Equal(t, model.StatusSucceeded, second.Status)
	assert.Contains(t, ledgerEventTypes(ledger, second.JobID), EventProvisionExists)
}

func TestProvisionShutdownWaitsForWorkflows(t *testing.T) {
	ledger := NewEventLedger(50, nil)
	lms := &mockProvisioner{
		createFn: func(ctx context.Context, req AccountRequest) (*AccountResult, error) {
			time.Sleep(20 * time.Millisecond)
			return &AccountResult{RemoteID: "42"}, nil
		},
	}
	orch := NewRetryOrchestrator(lms, ledger)

	assert.NoError(t, orch.ProvisionWithRetry(context.Background(), testJob("user-1")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, orch.Shutdown(ctx))
	assert.Equal(t, 1, lms.callCount())
}
