/*
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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/andeslabs/campus/config"

	"github.com/hibiken/asynq"
)

// OperatorAlert represents the structure of an alert delivered to the
// operator webhook. It includes an event type and associated payload data.
type OperatorAlert struct {
	Event   string      `json:"event"` // The event type that triggered the alert.
	Payload interface{} `json:"data"`  // The data associated with the event.
}

// processHTTP delivers an operator alert to the configured webhook via HTTP
// POST. Non-2XX responses are logged but not retried.
func processHTTP(data OperatorAlert) error {
	conf, err := config.Fetch()
	if err != nil {
		logrus.Errorf("Error fetching config: %v", err)
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		logrus.Errorf("Error marshaling alert: %v", err)
		return err
	}
	payload := bytes.NewBuffer(jsonData)

	req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, payload)
	if err != nil {
		logrus.Errorf("Error creating request: %v", err)
		return err
	}

	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		logrus.Errorf("Error sending alert: %v", err)
		return err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	// Check if the status code is not in the 2XX success range
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logrus.Warnf("Alert delivery failed with status code: %d", resp.StatusCode)
		return nil
	}

	var response map[string]interface{}
	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		logrus.Errorf("Error decoding response: %v", err)
		return err
	}

	logrus.Infof("Operator alert sent successfully: %v", response)
	return nil
}

// SendAlert enqueues an operator alert task. A missing webhook URL disables
// alerting silently.
func SendAlert(alert OperatorAlert) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: conf.Redis.Dns})
	payload, err := json.Marshal(alert)
	if err != nil {
		logrus.Errorf("Error marshaling alert: %v", err)
		return err
	}
	taskOptions := []asynq.Option{asynq.Queue(conf.Queue.AlertQueue)}
	task := asynq.NewTask(conf.Queue.AlertQueue, payload, taskOptions...)
	info, err := client.Enqueue(task)
	if err != nil {
		logrus.Errorf("Error enqueueing alert: %v %v", err, info)
		return err
	}
	return err
}

// ProcessAlert processes an operator alert task from the queue.
func ProcessAlert(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	var payload OperatorAlert
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("Error unmarshaling alert payload: %v", err)
		return err
	}
	logrus.Infof("Processing alert: %s", payload.Event)
	return processHTTP(payload)
}
