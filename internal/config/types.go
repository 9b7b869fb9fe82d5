package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Channels ChannelsConfig `json:"channels"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`

	Watcher  WatcherConfig  `json:"watcher,omitempty"`
	Announce AnnounceConfig `json:"announce,omitempty"`
	Delivery DeliveryConfig `json:"delivery,omitempty"`
	Janitor  JanitorConfig  `json:"janitor,omitempty"`
	Health   HealthConfig   `json:"health,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// ChannelsConfig names the two channels the bot operates on: the public
// announcement channel and the private archive holding the files.
type ChannelsConfig struct {
	Main    int64 `json:"main"`
	Archive int64 `json:"archive"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// WatcherConfig controls the job-queue polling loop.
// All durations are Go duration strings.
type WatcherConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	StoreBackoff string `json:"store_backoff,omitempty"`
}

type AnnounceConfig struct {
	// RowWidth caps buttons per keyboard row before wrapping to the next.
	RowWidth int `json:"row_width,omitempty"`
	// Footer is appended to every announcement caption (channel plug).
	Footer string `json:"footer,omitempty"`
}

type DeliveryConfig struct {
	Retention      string `json:"retention,omitempty"`
	CopyRatePerSec int    `json:"copy_rate_per_sec,omitempty"`
}

type JanitorConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	MaxAge   string `json:"max_age,omitempty"`
}

type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}

// Validate checks required values and duration syntax. Any failure here is
// fatal at startup: the process cannot run with a partial config.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if c.Channels.Main == 0 {
		errs = append(errs, errors.New("channels.main is required"))
	}
	if c.Channels.Archive == 0 {
		errs = append(errs, errors.New("channels.archive is required"))
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}

	for name, v := range map[string]string{
		"telegram.poll_timeout": c.Telegram.PollTimeout,
		"storage.busy_timeout":  c.Storage.BusyTimeout,
		"watcher.poll_interval": c.Watcher.PollInterval,
		"watcher.store_backoff": c.Watcher.StoreBackoff,
		"delivery.retention":    c.Delivery.Retention,
		"janitor.max_age":       c.Janitor.MaxAge,
	} {
		if _, err := parseDuration(v, 0); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Duration accessors: Validate has already rejected bad syntax, so these
// fall back to defaults silently on empty values.

func (c *Config) PollTimeout() time.Duration {
	d, _ := parseDuration(c.Telegram.PollTimeout, 10*time.Second)
	return d
}

func (c *Config) BusyTimeout() time.Duration {
	d, _ := parseDuration(c.Storage.BusyTimeout, 5*time.Second)
	return d
}

func (c *Config) WatcherPollInterval() time.Duration {
	d, _ := parseDuration(c.Watcher.PollInterval, 5*time.Second)
	return d
}

func (c *Config) WatcherStoreBackoff() time.Duration {
	d, _ := parseDuration(c.Watcher.StoreBackoff, 30*time.Second)
	return d
}

func (c *Config) DeliveryRetention() time.Duration {
	d, _ := parseDuration(c.Delivery.Retention, 15*time.Minute)
	return d
}

func (c *Config) JanitorMaxAge() time.Duration {
	d, _ := parseDuration(c.Janitor.MaxAge, 7*24*time.Hour)
	return d
}

func parseDuration(v string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, err
	}
	if d < 0 {
		return def, fmt.Errorf("negative duration %q", v)
	}
	return d, nil
}
