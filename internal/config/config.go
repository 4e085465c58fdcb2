// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"offer-engine/internal/domain"
	"offer-engine/internal/scheduler"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// CandidateConfig is a candidate listed in the config file for the static
// directory.
type CandidateConfig struct {
	ID              string   `mapstructure:"id" validate:"required"`
	Name            string   `mapstructure:"name" validate:"required"`
	ExperienceLevel int      `mapstructure:"experience_level" validate:"gte=0"`
	ActiveDays      []string `mapstructure:"active_days"`
	Active          *bool    `mapstructure:"active"`
	Contact         string   `mapstructure:"contact"`
}

// WorkloadSampleConfig is a worked-hours entry, Date formatted 2006-01-02.
type WorkloadSampleConfig struct {
	CandidateID string  `mapstructure:"candidate_id" validate:"required"`
	Date        string  `mapstructure:"date" validate:"required,datetime=2006-01-02"`
	Hours       float64 `mapstructure:"hours" validate:"gte=0,lte=24"`
}

// Config holds all configuration for the engine and the notifier worker.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	HttpListenAddr string `mapstructure:"http_listen_addr" validate:"required"`
	NodeID         string `mapstructure:"node_id"`

	StoreBackend     string `mapstructure:"store_backend" validate:"oneof=memory etcd postgres"`
	DirectoryBackend string `mapstructure:"directory_backend" validate:"oneof=static postgres"`

	EtcdEndpoints     []string      `mapstructure:"etcd_endpoints" validate:"required_if=StoreBackend etcd"`
	EtcdTimeout       time.Duration `mapstructure:"etcd_timeout"`
	LeaderElectionTTL time.Duration `mapstructure:"leader_election_ttl" validate:"gte=1s"`

	PostgresDSN   string `mapstructure:"postgres_dsn"`
	MigrationsDir string `mapstructure:"migrations_dir"`

	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=OutboxBackend redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`

	OfferTTL      time.Duration `mapstructure:"offer_ttl" validate:"gt=0"`
	ReminderAfter time.Duration `mapstructure:"reminder_after" validate:"gte=0"`
	LookbackDays  int           `mapstructure:"lookback_days" validate:"gt=0,lte=366"`
	Timezone      string        `mapstructure:"timezone" validate:"required"`
	SweepSchedule string        `mapstructure:"sweep_schedule" validate:"required"`

	OutboxBackend    string        `mapstructure:"outbox_backend" validate:"oneof=memory redis"`
	OutboxSize       int           `mapstructure:"outbox_size" validate:"gt=0"`
	OutboxWorkers    int           `mapstructure:"outbox_workers" validate:"gt=0"`
	DeliveryAttempts int           `mapstructure:"delivery_attempts" validate:"gt=0"`
	DeliveryBackoff  time.Duration `mapstructure:"delivery_backoff" validate:"gte=0"`
	DeliveryTimeout  time.Duration `mapstructure:"delivery_timeout" validate:"gte=0"`

	WebhookURL           string `mapstructure:"webhook_url" validate:"omitempty,url"`
	EscalationWebhookURL string `mapstructure:"escalation_webhook_url" validate:"omitempty,url"`
	NotifyCommand        string `mapstructure:"notify_command"`

	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	Candidates      []CandidateConfig      `mapstructure:"candidates" validate:"dive"`
	WorkloadSamples []WorkloadSampleConfig `mapstructure:"workload_samples" validate:"dive"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("store_backend", "memory")
	v.SetDefault("directory_backend", "static")
	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("leader_election_ttl", "10s")
	v.SetDefault("migrations_dir", "migrations")
	v.SetDefault("redis_db", 0)
	v.SetDefault("offer_ttl", "2h")
	v.SetDefault("reminder_after", "1h")
	v.SetDefault("lookback_days", 14)
	v.SetDefault("timezone", "UTC")
	v.SetDefault("sweep_schedule", "@every 30s")
	v.SetDefault("outbox_backend", "memory")
	v.SetDefault("outbox_size", 256)
	v.SetDefault("outbox_workers", 4)
	v.SetDefault("delivery_attempts", 3)
	v.SetDefault("delivery_backoff", "2s")
	v.SetDefault("delivery_timeout", "15s")
	v.SetDefault("log_level", "info")
}

// Load loads configuration from ./configs/config.yaml or ./config.yaml and
// environment variables. A missing file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	return load(v, false)
}

// LoadFile loads configuration from the given file and environment variables.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v, true)
}

// bindEnv registers every scalar key with the environment. AutomaticEnv alone
// only overrides keys viper already knows from a default or the file.
func bindEnv(v *viper.Viper) error {
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" || (f.Type.Kind() == reflect.Slice && f.Type.Elem().Kind() == reflect.Struct) {
			continue
		}
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}

func load(v *viper.Viper, requireFile bool) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if requireFile || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the values that need parsing.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.StoreBackend == "postgres" || c.DirectoryBackend == "postgres" {
		if c.PostgresDSN == "" {
			return errors.New("invalid config: postgres_dsn is required for the postgres backend")
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if err := scheduler.ValidateSchedule(c.SweepSchedule); err != nil {
		return fmt.Errorf("invalid config: sweep_schedule: %w", err)
	}
	if _, err := c.StaticCandidates(); err != nil {
		return err
	}
	if _, err := c.StaticWorkloadSamples(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts full or three-letter day names in any case.
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return d, nil
}

// StaticCandidates converts the configured candidates. An absent active_days
// means Monday to Friday, while an explicit empty list means no active day;
// a missing active flag means active.
func (c *Config) StaticCandidates() ([]*domain.Candidate, error) {
	out := make([]*domain.Candidate, 0, len(c.Candidates))
	for _, cc := range c.Candidates {
		cand := &domain.Candidate{
			ID:              cc.ID,
			Name:            cc.Name,
			ExperienceLevel: cc.ExperienceLevel,
			Active:          cc.Active == nil || *cc.Active,
			Contact:         cc.Contact,
		}
		if cc.ActiveDays == nil {
			cand.ActiveDays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
		}
		for _, s := range cc.ActiveDays {
			d, err := ParseWeekday(s)
			if err != nil {
				return nil, fmt.Errorf("invalid config: candidate %s: %w", cc.ID, err)
			}
			cand.ActiveDays = append(cand.ActiveDays, d)
		}
		out = append(out, cand)
	}
	return out, nil
}

// StaticWorkloadSamples converts the configured samples, reading dates in the
// configured timezone.
func (c *Config) StaticWorkloadSamples() ([]domain.WorkloadSample, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	out := make([]domain.WorkloadSample, 0, len(c.WorkloadSamples))
	for _, s := range c.WorkloadSamples {
		date, err := time.ParseInLocation(time.DateOnly, s.Date, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid config: sample for %s: %w", s.CandidateID, err)
		}
		out = append(out, domain.WorkloadSample{CandidateID: s.CandidateID, Date: date, Hours: s.Hours})
	}
	return out, nil
}
