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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5100"

	DefaultMaxRetries    = 3
	DefaultRetryDelaySec = 60
	DefaultMaxEvents     = 500
	DefaultWindowSec     = 60
	DefaultAdmitPerWin   = 10
	DefaultTokenHint     = 500
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"CAMPUS_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"CAMPUS_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"CAMPUS_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"CAMPUS_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"CAMPUS_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"CAMPUS_SERVER_PORT"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"CAMPUS_REDIS_DNS"`
}

// RateLimitConfig carries both the global requests-per-second guard applied by
// the HTTP middleware and the per-caller admission window used by the
// AdmissionLimiter.
type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"CAMPUS_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"CAMPUS_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"CAMPUS_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`

	WindowSec              *int `json:"window_sec" envconfig:"CAMPUS_RATE_LIMIT_WINDOW_SEC"`
	AdmitPerWindow         *int `json:"admit_per_window" envconfig:"CAMPUS_RATE_LIMIT_ADMIT_PER_WINDOW"`
	UniqueTokenPerInterval *int `json:"unique_token_per_interval" envconfig:"CAMPUS_RATE_LIMIT_UNIQUE_TOKEN_PER_INTERVAL"`
}

// Window returns the admission window length.
func (r RateLimitConfig) Window() time.Duration {
	if r.WindowSec == nil {
		return time.Duration(DefaultWindowSec) * time.Second
	}
	return time.Duration(*r.WindowSec) * time.Second
}

type ProvisionConfig struct {
	MaxRetries    int `json:"max_retries" envconfig:"CAMPUS_PROVISION_MAX_RETRIES"`
	RetryDelaySec int `json:"retry_delay_sec" envconfig:"CAMPUS_PROVISION_RETRY_DELAY_SEC"`
}

// RetryDelay returns the fixed inter-attempt wait.
func (p ProvisionConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelaySec) * time.Second
}

type LedgerConfig struct {
	MaxEvents int `json:"max_events" envconfig:"CAMPUS_LEDGER_MAX_EVENTS"`
}

// PaymentConfig identifies the merchant at the payment gateway. ApiKey is the
// shared secret bound into notification signatures.
type PaymentConfig struct {
	MerchantID string `json:"merchant_id" envconfig:"CAMPUS_PAYMENT_MERCHANT_ID"`
	ApiKey     string `json:"api_key" envconfig:"CAMPUS_PAYMENT_API_KEY"`
}

type MoodleConfig struct {
	Url        string `json:"url" envconfig:"CAMPUS_MOODLE_URL"`
	Token      string `json:"token" envconfig:"CAMPUS_MOODLE_TOKEN"`
	TimeoutSec int    `json:"timeout_sec" envconfig:"CAMPUS_MOODLE_TIMEOUT_SEC"`
	CategoryID string `json:"category_id" envconfig:"CAMPUS_MOODLE_CATEGORY_ID"`
}

type QueueConfig struct {
	ProvisionQueue string `json:"provision_queue" envconfig:"CAMPUS_QUEUE_PROVISION_QUEUE"`
	AlertQueue     string `json:"alert_queue" envconfig:"CAMPUS_QUEUE_ALERT_QUEUE"`
	NumberOfQueues int    `json:"number_of_queues" envconfig:"CAMPUS_QUEUE_NUMBER_OF_QUEUES"`
	MonitoringPort string `json:"monitoring_port" envconfig:"CAMPUS_QUEUE_MONITORING_PORT"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"CAMPUS_SLACK_WEBHOOK_URL"`
}

type WebhookNotification struct {
	Url     string            `json:"url" envconfig:"CAMPUS_NOTIFICATION_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook        `json:"slack"`
	Webhook WebhookNotification `json:"webhook"`
}

type Configuration struct {
	ProjectName  string          `json:"project_name" envconfig:"CAMPUS_PROJECT_NAME"`
	Server       ServerConfig    `json:"server"`
	Redis        RedisConfig     `json:"redis"`
	RateLimit    RateLimitConfig `json:"rate_limit"`
	Provision    ProvisionConfig `json:"provision"`
	Ledger       LedgerConfig    `json:"ledger"`
	Payment      PaymentConfig   `json:"payment"`
	Moodle       MoodleConfig    `json:"moodle"`
	Queue        QueueConfig     `json:"queue"`
	Notification Notification    `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("campus", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called campus.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Campus Server"
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Moodle.Url = strings.TrimSpace(cnf.Moodle.Url)
	cnf.Moodle.Token = strings.TrimSpace(cnf.Moodle.Token)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Provision.MaxRetries <= 0 {
		cnf.Provision.MaxRetries = DefaultMaxRetries
	}
	if cnf.Provision.RetryDelaySec <= 0 {
		cnf.Provision.RetryDelaySec = DefaultRetryDelaySec
	}
	if cnf.Ledger.MaxEvents <= 0 {
		cnf.Ledger.MaxEvents = DefaultMaxEvents
	}

	if cnf.RateLimit.WindowSec == nil {
		defaultWindow := DefaultWindowSec
		cnf.RateLimit.WindowSec = &defaultWindow
	}
	if cnf.RateLimit.AdmitPerWindow == nil {
		defaultAdmit := DefaultAdmitPerWin
		cnf.RateLimit.AdmitPerWindow = &defaultAdmit
	}
	if cnf.RateLimit.UniqueTokenPerInterval == nil {
		defaultHint := DefaultTokenHint
		cnf.RateLimit.UniqueTokenPerInterval = &defaultHint
	}

	// The global RPS guard is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	if cnf.Moodle.TimeoutSec <= 0 {
		cnf.Moodle.TimeoutSec = 30
	}

	if cnf.Queue.ProvisionQueue == "" {
		cnf.Queue.ProvisionQueue = "campus:provision"
	}
	if cnf.Queue.AlertQueue == "" {
		cnf.Queue.AlertQueue = "campus:alert"
	}
	if cnf.Queue.NumberOfQueues <= 0 {
		cnf.Queue.NumberOfQueues = 4
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5101"
	}

	if cnf.Payment.ApiKey == "" {
		log.Println("Warning: Payment API key is empty. Notification verification will be rejected until it is set.")
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	_ = mockConfig.validateAndAddDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
