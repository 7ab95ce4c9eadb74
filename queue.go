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
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"

	"github.com/andeslabs/campus/config"
	redis_db "github.com/andeslabs/campus/internal/redis-db"
	"github.com/andeslabs/campus/model"
)

// Queue hands provisioning jobs and operator alerts to the worker process
// over Redis.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueProvisioning adds a provisioning job to the Redis queue. Jobs are
// sharded across queues by identity so that all work for one identity is
// processed serially within the same queue, and the task id is derived from
// the identity so a duplicate request collapses at enqueue time.
func (q *Queue) EnqueueProvisioning(ctx context.Context, job *model.ProvisioningJob) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	queueName := q.provisionQueueName(cfg, job.Identity())
	taskOptions := []asynq.Option{
		asynq.TaskID(provisionTaskID(job.Identity())),
		asynq.Queue(queueName),
		// The orchestrator owns the retry loop; the queue must not add its own.
		asynq.MaxRetry(0),
	}
	task := asynq.NewTask(queueName, payload, taskOptions...)

	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return errors.Wrapf(ErrDuplicateJob, "identity %s already queued", job.Identity())
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued provisioning job: %+v", job.JobID)
	return nil
}

// PendingJob retrieves a queued provisioning job by identity, or nil when no
// job is waiting.
func (q *Queue) PendingJob(identity string) (*model.ProvisioningJob, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	task, err := q.Inspector.GetTaskInfo(q.provisionQueueName(cfg, identity), provisionTaskID(identity))
	if err != nil || task == nil {
		return nil, nil
	}

	var job model.ProvisioningJob
	if err := json.Unmarshal(task.Payload, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// provisionQueueName distributes identities across the configured number of
// provisioning queues.
func (q *Queue) provisionQueueName(cfg *config.Configuration, identity string) string {
	queueIndex := hashIdentity(identity) % cfg.Queue.NumberOfQueues
	return fmt.Sprintf("%s_%d", cfg.Queue.ProvisionQueue, queueIndex+1)
}

// hashIdentity returns a consistent hash value for a job identity.
func hashIdentity(identity string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(identity))
	return int(hasher.Sum32())
}

func provisionTaskID(identity string) string {
	return fmt.Sprintf("provision:%08x", hashIdentity(identity))
}
