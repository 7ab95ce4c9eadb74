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

// Lifecycle event types recorded in the EventLedger. Types containing an
// error marker (see errorEventMarkers) additionally reach the operator alert
// channel.
const (
	EventNotificationReceived = "notification_received"
	EventNotificationReplayed = "notification_replayed"
	EventSignatureMismatch    = "signature_mismatch"

	EventProvisionRequested = "provision_requested"
	EventProvisionAttempt   = "provision_attempt"
	EventProvisionSucceeded = "provision_succeeded"
	EventProvisionExists    = "provision_account_exists"
	EventProvisionExhausted = "provision_exhausted"
	EventProvisionDuplicate = "provision_duplicate_request"
)
