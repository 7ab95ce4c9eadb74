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
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrRateExceeded is returned when a caller has used up its admissions for
// the current window.
var ErrRateExceeded = errors.New("rate limit exceeded")

type rateWindow struct {
	startedAt time.Time
	counts    map[string]int
}

// AdmissionLimiter is a fixed-window admission counter keyed by caller id.
// All callers share one window: when the interval elapses, every count
// resets at once. Admissions consumed in a window are never handed back,
// even when the guarded operation is later rejected.
type AdmissionLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	sizeHint int
	window   rateWindow
}

// NewAdmissionLimiter creates a limiter with the given window length.
// uniqueTokenPerInterval sizes the caller map for the expected number of
// distinct callers per window.
func NewAdmissionLimiter(interval time.Duration, uniqueTokenPerInterval int) *AdmissionLimiter {
	if uniqueTokenPerInterval <= 0 {
		uniqueTokenPerInterval = 1
	}
	return &AdmissionLimiter{
		interval: interval,
		sizeHint: uniqueTokenPerInterval,
		window: rateWindow{
			startedAt: time.Now(),
			counts:    make(map[string]int, uniqueTokenPerInterval),
		},
	}
}

// Check counts the call and admits the caller when the count stays within
// limit for the current window. Rejected calls keep their increment, so a
// caller hammering past its limit digs itself deeper. A limit of zero admits
// nothing. Expiry, increment and comparison happen under one lock, so
// concurrent callers never over-admit.
func (a *AdmissionLimiter) Check(limit int, callerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.evictExpired()

	a.window.counts[callerID]++

	if limit <= 0 {
		return errors.Wrapf(ErrRateExceeded, "caller %s has no admission quota", callerID)
	}
	if a.window.counts[callerID] > limit {
		return errors.Wrapf(ErrRateExceeded, "caller %s exceeded %d requests per %s", callerID, limit, a.interval)
	}
	return nil
}

// evictExpired resets the window when its interval has elapsed. Callers must
// hold a.mu.
func (a *AdmissionLimiter) evictExpired() {
	if time.Since(a.window.startedAt) < a.interval {
		return
	}
	a.window = rateWindow{
		startedAt: time.Now(),
		counts:    make(map[string]int, a.sizeHint),
	}
}
