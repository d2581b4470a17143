/*
Copyright 2024 Blnk Finance Authors.

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
	"path/filepath"
	"strings"
	"sync/atomic"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_DATA_DIR               = "out"
	DEFAULT_ATTRIBUTION_WINDOW     = 30
	DEFAULT_LOCK_TTL_SECONDS       = 900
	DEFAULT_REPORT_FORMAT          = "text"
	DEFAULT_LOG_LEVEL              = "info"
	DEFAULT_CRM_DB_FILE            = "crm.sqlite"
	DEFAULT_TRIAGE_LOG_FILE        = "inbox_triage_log.csv"
	DEFAULT_SUPPRESSION_CSV_FILE   = "suppression.csv"
	DEFAULT_REPORT_OUTPUT_SUBDIR   = "outreach/ops_reports"
	DEFAULT_CONFIG_FILE            = "outreach.json"
	DEFAULT_ENV_FILE               = ".env"
	DEFAULT_CAPTURE_SYNC_LOCK_NAME = "outreach:capture_sync"
)

var ConfigStore atomic.Value

type DataSourceConfig struct {
	Path string `json:"path" envconfig:"OUTREACH_DATA_SOURCE_PATH"`
}

type FeedsConfig struct {
	TriageLog            string `json:"triage_log" envconfig:"OUTREACH_TRIAGE_LOG"`
	SuppressionCSV       string `json:"suppression_csv" envconfig:"OUTREACH_SUPPRESSION_CSV"`
	MirrorSuppressionCSV bool   `json:"mirror_suppression_csv" envconfig:"OUTREACH_MIRROR_SUPPRESSION_CSV"`
}

type AttributionConfig struct {
	WindowDays int `json:"window_days" envconfig:"OUTREACH_ATTRIBUTION_WINDOW_DAYS"`
}

type ReportConfig struct {
	OutputDir string `json:"output_dir" envconfig:"OUTREACH_REPORT_OUTPUT_DIR"`
	Format    string `json:"format" envconfig:"OUTREACH_REPORT_FORMAT"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"OUTREACH_REDIS_DNS"`
}

type LockConfig struct {
	TTLSeconds int `json:"ttl_seconds" envconfig:"OUTREACH_LOCK_TTL_SECONDS"`
}

type MetricsConfig struct {
	TextfilePath string `json:"textfile_path" envconfig:"OUTREACH_METRICS_TEXTFILE"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"OUTREACH_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName        string            `json:"project_name" envconfig:"OUTREACH_PROJECT_NAME"`
	DataDir            string            `json:"data_dir" envconfig:"OUTREACH_DATA_DIR"`
	LogLevel           string            `json:"log_level" envconfig:"OUTREACH_LOG_LEVEL"`
	BackupDir          string            `json:"backup_dir" envconfig:"OUTREACH_BACKUP_DIR"`
	AwsAccessKeyId     string            `json:"aws_access_key_id" envconfig:"OUTREACH_AWS_ACCESS_KEY_ID"`
	AwsSecretAccessKey string            `json:"aws_secret_access_key" envconfig:"OUTREACH_AWS_SECRET_ACCESS_KEY"`
	S3Endpoint         string            `json:"s3_endpoint" envconfig:"OUTREACH_S3_ENDPOINT"`
	S3BucketName       string            `json:"s3_bucket_name" envconfig:"OUTREACH_S3_BUCKET_NAME"`
	S3Region           string            `json:"s3_region" envconfig:"OUTREACH_S3_REGION"`
	DataSource         DataSourceConfig  `json:"data_source"`
	Feeds              FeedsConfig       `json:"feeds"`
	Attribution        AttributionConfig `json:"attribution"`
	Report             ReportConfig      `json:"report"`
	Redis              RedisConfig       `json:"redis"`
	Lock               LockConfig        `json:"lock"`
	Metrics            MetricsConfig     `json:"metrics"`
	Notification       Notification      `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		logrus.Debugf("config file %s not found, using env variables", file)
	}

	// override config from environment variables
	err = envconfig.Process("outreach", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

// InitConfig loads a .env file when one exists, then the JSON config file, then
// environment overrides.
func InitConfig(configFile string) error {
	if err := godotenv.Load(DEFAULT_ENV_FILE); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := loadConfigFromFile(configFile); err != nil {
		return err
	}
	cnf, _ := Fetch()
	logger(cnf.LogLevel)
	return nil
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded. Create outreach.json or set OUTREACH_* environment variables")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Outreach"
	}

	cnf.DataDir = strings.TrimSpace(cnf.DataDir)
	if cnf.DataDir == "" {
		cnf.DataDir = DEFAULT_DATA_DIR
	}
	if abs, err := filepath.Abs(cnf.DataDir); err == nil {
		cnf.DataDir = abs
	}

	cnf.LogLevel = strings.ToLower(strings.TrimSpace(cnf.LogLevel))
	if cnf.LogLevel == "" {
		cnf.LogLevel = DEFAULT_LOG_LEVEL
	}

	cnf.DataSource.Path = cnf.resolve(cnf.DataSource.Path, DEFAULT_CRM_DB_FILE)
	cnf.Feeds.TriageLog = cnf.resolve(cnf.Feeds.TriageLog, DEFAULT_TRIAGE_LOG_FILE)
	cnf.Feeds.SuppressionCSV = cnf.resolve(cnf.Feeds.SuppressionCSV, DEFAULT_SUPPRESSION_CSV_FILE)
	cnf.Report.OutputDir = cnf.resolve(cnf.Report.OutputDir, DEFAULT_REPORT_OUTPUT_SUBDIR)

	if cnf.Attribution.WindowDays == 0 {
		cnf.Attribution.WindowDays = DEFAULT_ATTRIBUTION_WINDOW
	}
	if cnf.Lock.TTLSeconds == 0 {
		cnf.Lock.TTLSeconds = DEFAULT_LOCK_TTL_SECONDS
	}
	cnf.Report.Format = strings.ToLower(strings.TrimSpace(cnf.Report.Format))
	if cnf.Report.Format == "" {
		cnf.Report.Format = DEFAULT_REPORT_FORMAT
	}
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.BackupDir = strings.TrimSpace(cnf.BackupDir)

	if err := validation.ValidateStruct(&cnf.Attribution,
		validation.Field(&cnf.Attribution.WindowDays, validation.Min(1)),
	); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&cnf.Report,
		validation.Field(&cnf.Report.Format, validation.In("text", "json")),
	); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&cnf.Lock,
		validation.Field(&cnf.Lock.TTLSeconds, validation.Min(1)),
	); err != nil {
		return err
	}
	return validation.ValidateStruct(cnf,
		validation.Field(&cnf.LogLevel, validation.In("trace", "debug", "info", "warn", "warning", "error")),
		validation.Field(&cnf.S3Region, validation.When(cnf.S3BucketName != "", validation.Required)),
	)
}

// resolve returns path made absolute against the data directory, or the data
// directory joined with fallback when path is empty.
func (cnf *Configuration) resolve(path, fallback string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return filepath.Join(cnf.DataDir, fallback)
	}
	if filepath.IsAbs(p) {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

// Defaults returns a validated configuration rooted at dataDir without reading
// files or the environment.
func Defaults(dataDir string) (*Configuration, error) {
	cnf := &Configuration{DataDir: dataDir}
	if err := cnf.validateAndAddDefaults(); err != nil {
		return nil, err
	}
	return cnf, nil
}

func logger(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stderr)
	log.SetOutput(logrus.StandardLogger().Writer())
}
