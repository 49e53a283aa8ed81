/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package config loads the mailtriage configuration file.
//
// The file is YAML. Every key has a default, so a file only needs to name
// the mail servers and the roster. Passwords may be supplied through the
// environment instead of the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"
	"unicode"

	"gopkg.in/yaml.v3"
)

const (
	EnvIMAPPassword = "MAILTRIAGE_IMAP_PASSWORD"
	EnvSMTPPassword = "MAILTRIAGE_SMTP_PASSWORD"

	DefaultTimezone   = "Asia/Riyadh"
	DefaultSentFolder     = "Sent Items"
	DefaultFallbackFolder = "Need Review"
	DefaultMailbox        = "INBOX"
)

// Security selects how a connection to a mail server is protected.
type Security string

const (
	SecurityTLS      Security = "tls"
	SecurityStartTLS Security = "starttls"
	SecurityNone     Security = "none"
)

type Config struct {
	IMAP IMAPConfig `yaml:"imap"`
	SMTP SMTPConfig `yaml:"smtp"`

	// Timezone is the IANA zone in which duty hours are evaluated.
	Timezone string `yaml:"timezone"`

	// ForwardCategories are the labels routed to the duty roster.
	ForwardCategories []string `yaml:"forward_categories"`

	// SentFolder receives the originals of forwarded mail.
	SentFolder string `yaml:"sent_folder"`

	// FallbackFolder receives mail whose label leaves no usable folder
	// name once punctuation is stripped.
	FallbackFolder string `yaml:"fallback_folder"`

	// Schedule is the path to the duty roster.
	Schedule string `yaml:"schedule"`

	Classifier ClassifierConfig `yaml:"classifier"`
	Journal    JournalConfig    `yaml:"journal"`
	Watch      WatchConfig      `yaml:"watch"`
	Retry      RetryConfig      `yaml:"retry"`
}

type IMAPConfig struct {
	Addr     string   `yaml:"addr"`
	Security Security `yaml:"security"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Mailbox  string   `yaml:"mailbox"`
}

type SMTPConfig struct {
	Addr     string   `yaml:"addr"`
	Security Security `yaml:"security"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	// From defaults to the username.
	From string `yaml:"from"`
}

// Rule maps keywords to a label. Fields restricts matching to any of
// "subject", "body" and "sender"; empty means all of them.
type Rule struct {
	Label    string   `yaml:"label"`
	Keywords []string `yaml:"keywords"`
	Fields   []string `yaml:"fields"`
}

type ClassifierConfig struct {
	Rules   []Rule `yaml:"rules"`
	Default string `yaml:"default"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type WatchConfig struct {
	// IdleTimeout bounds how long one IDLE wait lasts before a fresh pass.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// PollInterval is used when the server lacks IDLE.
	PollInterval time.Duration `yaml:"poll_interval"`
}

type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns the configuration used for any key the file leaves out.
func Default() *Config {
	return &Config{
		IMAP: IMAPConfig{
			Security: SecurityTLS,
			Mailbox:  DefaultMailbox,
		},
		SMTP: SMTPConfig{
			Security: SecurityStartTLS,
		},
		Timezone:          DefaultTimezone,
		ForwardCategories: []string{"D", "MD", "F", "E"},
		SentFolder:        DefaultSentFolder,
		FallbackFolder:    DefaultFallbackFolder,
		Classifier: ClassifierConfig{
			Default: "Need Review",
		},
		Journal: JournalConfig{
			Path: "mailtriage.db",
		},
		Watch: WatchConfig{
			IdleTimeout:  25 * time.Minute,
			PollInterval: time.Minute,
		},
		Retry: RetryConfig{
			Attempts:   3,
			MinBackoff: 2 * time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("os.ReadFile: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config.Parse(%s): %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("yaml.Unmarshal: %w", err)
	}
	cfg.applyEnv(os.LookupEnv)
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.Username
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvIMAPPassword); ok {
		c.IMAP.Password = v
	}
	if v, ok := lookup(EnvSMTPPassword); ok {
		c.SMTP.Password = v
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.IMAP.Addr == "" {
		errs = append(errs, errors.New("imap.addr is required"))
	}
	if c.SMTP.Addr == "" {
		errs = append(errs, errors.New("smtp.addr is required"))
	}
	if c.IMAP.Username == "" {
		errs = append(errs, errors.New("imap.username is required"))
	}
	if err := c.IMAP.Security.validate(); err != nil {
		errs = append(errs, fmt.Errorf("imap.security: %w", err))
	}
	if err := c.SMTP.Security.validate(); err != nil {
		errs = append(errs, fmt.Errorf("smtp.security: %w", err))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if strings.TrimSpace(c.SentFolder) == "" {
		errs = append(errs, errors.New("sent_folder must not be empty"))
	}
	if !strings.ContainsFunc(c.FallbackFolder, isFolderRune) {
		errs = append(errs, errors.New("fallback_folder must contain a letter or digit"))
	}
	for i, cat := range c.ForwardCategories {
		if strings.TrimSpace(cat) == "" {
			errs = append(errs, fmt.Errorf("forward_categories[%d] is empty", i))
		}
	}
	for i, r := range c.Classifier.Rules {
		if strings.TrimSpace(r.Label) == "" {
			errs = append(errs, fmt.Errorf("classifier.rules[%d].label is required", i))
		}
		if len(r.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("classifier.rules[%d].keywords is empty", i))
		}
		for _, f := range r.Fields {
			switch f {
			case "subject", "body", "sender":
			default:
				errs = append(errs, fmt.Errorf("classifier.rules[%d]: unknown field %q", i, f))
			}
		}
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path is required when the journal is enabled"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, errors.New("retry.attempts must be at least 1"))
	}
	if c.Retry.MaxBackoff < c.Retry.MinBackoff {
		errs = append(errs, errors.New("retry.max_backoff is below retry.min_backoff"))
	}
	if c.Watch.IdleTimeout <= 0 {
		errs = append(errs, errors.New("watch.idle_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Location loads the organizational timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("time.LoadLocation: %w", err)
	}
	return loc, nil
}

func (s Security) validate() error {
	switch s {
	case SecurityTLS, SecurityStartTLS, SecurityNone:
		return nil
	default:
		return fmt.Errorf("unknown mode %q", string(s))
	}
}

func isFolderRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
