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

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provisioning job statuses. SUCCEEDED and EXHAUSTED are terminal.
const (
	StatusPending   = "PENDING"
	StatusSucceeded = "SUCCEEDED"
	StatusExhausted = "EXHAUSTED"
)

// Provisioning attempt outcomes.
const (
	OutcomePending          = "pending"
	OutcomeSuccess          = "success"
	OutcomeRetryableFailure = "retryable_failure"
	OutcomeFatalFailure     = "fatal_failure"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// ProvisioningAttempt records one try at creating a remote account.
type ProvisioningAttempt struct {
	AttemptNumber int       `json:"attempt_number"`
	StartedAt     time.Time `json:"started_at"`
	Outcome       string    `json:"outcome"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
}

// ProvisioningJob is the unit of work "ensure this local user exists as a
// remote LMS account". It is created when a provisioning request passes
// admission control and terminates on first success or once MaxRetries
// attempts have failed.
type ProvisioningJob struct {
	JobID      string `json:"job_id"`
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Password   string `json:"-"`
	CourseID   string `json:"course_id,omitempty"`
	MaxRetries int    `json:"max_retries"`
	// RetryDelay is the fixed wait between attempts, not an exponential base.
	RetryDelay time.Duration         `json:"retry_delay"`
	Status     string                `json:"status"`
	CreatedAt  time.Time             `json:"created_at"`
	Attempts   []ProvisioningAttempt `json:"attempts,omitempty"`
}

// Identity returns the external identity key of the job. Two jobs with the
// same identity must never run concurrent attempt sequences.
func (j *ProvisioningJob) Identity() string {
	return fmt.Sprintf("%s|%s", strings.ToLower(strings.TrimSpace(j.Email)), j.UserID)
}

// DisplayName returns the human readable name used for the remote account.
func (j *ProvisioningJob) DisplayName() string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", j.FirstName, j.LastName))
}

// Terminal reports whether the job reached a state with no further transitions.
func (j *ProvisioningJob) Terminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusExhausted
}

// PaymentEvent is an immutable record of something that happened in the
// payment or provisioning lifecycle. UserID and Reference are promoted out of
// the payload so the ledger can filter on them.
type PaymentEvent struct {
	Type      string                 `json:"type"`
	UserID    string                 `json:"user_id,omitempty"`
	Reference string                 `json:"reference,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventFilter narrows ledger queries. Zero-valued fields match everything.
type EventFilter struct {
	TypeContains      string    `json:"type_contains,omitempty"`
	UserID            string    `json:"user_id,omitempty"`
	ReferenceContains string    `json:"reference_contains,omitempty"`
	From              time.Time `json:"from,omitempty"`
	To                time.Time `json:"to,omitempty"`
}

// Match reports whether the event satisfies every set criterion.
func (f EventFilter) Match(e PaymentEvent) bool {
	if f.TypeContains != "" && !strings.Contains(e.Type, f.TypeContains) {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.ReferenceContains != "" && !strings.Contains(e.Reference, f.ReferenceContains) {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// PaymentNotification is the inbound message the payment gateway posts to the
// notification endpoint. Field names follow the gateway's wire format.
type PaymentNotification struct {
	MerchantID    string  `json:"merchantId" form:"merchantId"`
	ReferenceCode string  `json:"referenceCode" form:"referenceCode"`
	Amount        float64 `json:"amount" form:"amount"`
	Currency      string  `json:"currency" form:"currency"`
	StatusCode    string  `json:"statusCode" form:"statusCode"`
	Signature     string  `json:"signature" form:"signature"`
	TransactionID string  `json:"transactionId" form:"transactionId"`
}

// SignatureVariant is one candidate digest computed from a plausible
// canonicalization of the notification fields. Variants exist for integration
// debugging only; production verification trusts a single canonical form.
type SignatureVariant struct {
	Label           string `json:"label"`
	CanonicalString string `json:"canonical_string"`
	Digest          string `json:"digest"`
}
