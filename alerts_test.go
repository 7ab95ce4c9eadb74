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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"

	"github.com/andeslabs/campus/config"
	"github.com/andeslabs/campus/model"
)

func TestSendAlert(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	defer mr.Close()

	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{
			Dns: mr.Addr(),
		},
		Notification: config.Notification{
			Webhook: config.WebhookNotification{Url: "https://localhost:5001/alerts"},
		},
	})

	testData := OperatorAlert{
		Event: "ledger." + EventSignatureMismatch,
		Payload: model.PaymentEvent{
			Type:      EventSignatureMismatch,
			Reference: "ORD-1001",
		},
	}

	err = SendAlert(testData)
	assert.NoError(t, err)

	// Verify that the task was enqueued
	tasks := mr.Keys()
	t.Log(tasks)
	assert.NotEmpty(t, tasks)
}

func TestSendAlertNoWebhookConfigured(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	defer mr.Close()

	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{
			Dns: mr.Addr(),
		},
	})

	err = SendAlert(OperatorAlert{Event: "ledger." + EventSignatureMismatch})
	assert.NoError(t, err)

	// Nothing enqueued without a destination.
	assert.Empty(t, mr.Keys())
}
