// Copyright 2024-2026 Aiku AI

// Package config loads the bot configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"

	"github.com/LocalStellerUser/Tortoise-BOT/pkg/modmail"
)

//go:embed example-config.yaml
var ExampleConfig string

const (
	PlatformMattermost = "mattermost"
	PlatformMatrix     = "matrix"
)

// Environment variables that override file values.
const (
	EnvToken        = "BOT_TOKEN"
	EnvAdminAPIAddr = "BOT_ADMIN_API_ADDR"
)

// Config holds the bot configuration.
type Config struct {
	Platform     string           `yaml:"platform"`
	Mattermost   MattermostConfig `yaml:"mattermost"`
	Matrix       MatrixConfig     `yaml:"matrix"`
	Channels     ChannelsConfig   `yaml:"channels"`
	Menu         MenuConfig       `yaml:"menu"`
	AdminAPIAddr string           `yaml:"admin_api_addr"`
	Logging      LoggingConfig    `yaml:"logging"`

	// ReplyTimeoutSeconds and MenuCooldownSeconds are converted to
	// ReplyTimeout and MenuCooldown by PostProcess.
	ReplyTimeoutSeconds int `yaml:"reply_timeout"`
	MenuCooldownSeconds int `yaml:"menu_cooldown"`

	ReplyTimeout time.Duration `yaml:"-"`
	// MenuCooldown is negative when the cooldown is disabled.
	MenuCooldown time.Duration `yaml:"-"`
}

type MattermostConfig struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`
}

type MatrixConfig struct {
	HomeserverURL string `yaml:"homeserver_url"`
	UserID        string `yaml:"user_id"`
	AccessToken   string `yaml:"access_token"`
}

type ChannelsConfig struct {
	ModMail         string `yaml:"mod_mail"`
	CodeSubmissions string `yaml:"code_submissions"`
	BugReports      string `yaml:"bug_reports"`
}

type MenuConfig struct {
	ModMail         string `yaml:"mod_mail"`
	EventSubmission string `yaml:"event_submission"`
	BugReport       string `yaml:"bug_report"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "platform")
	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "token")
	helper.Copy(up.Str, "matrix", "homeserver_url")
	helper.Copy(up.Str, "matrix", "user_id")
	helper.Copy(up.Str, "matrix", "access_token")
	helper.Copy(up.Str, "channels", "mod_mail")
	helper.Copy(up.Str, "channels", "code_submissions")
	helper.Copy(up.Str, "channels", "bug_reports")
	helper.Copy(up.Str, "menu", "mod_mail")
	helper.Copy(up.Str, "menu", "event_submission")
	helper.Copy(up.Str, "menu", "bug_report")
	helper.Copy(up.Int, "reply_timeout")
	helper.Copy(up.Int, "menu_cooldown")
	helper.Copy(up.Str, "admin_api_addr")
	helper.Copy(up.Str, "logging", "level")
	helper.Copy(up.Bool, "logging", "pretty")
}

// Load reads the config file at path. See Parse.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data, os.LookupEnv)
}

// Parse copies the values of data over the example config, applies
// environment overrides from lookupEnv and validates the result. Keys
// missing from data keep their example values.
func Parse(data []byte, lookupEnv func(string) (string, bool)) (*Config, error) {
	var baseNode yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &baseNode); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}

	if strings.TrimSpace(string(data)) != "" {
		var cfgNode yaml.Node
		if err := yaml.Unmarshal(data, &cfgNode); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		upgradeConfig(up.NewHelper(&baseNode, &cfgNode))
	}

	var cfg Config
	if err := baseNode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if lookupEnv != nil {
		cfg.ApplyEnv(lookupEnv)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv applies environment overrides. BOT_TOKEN replaces the token of
// the configured platform.
func (c *Config) ApplyEnv(lookupEnv func(string) (string, bool)) {
	if token, ok := lookupEnv(EnvToken); ok && token != "" {
		switch c.Platform {
		case PlatformMattermost:
			c.Mattermost.Token = token
		case PlatformMatrix:
			c.Matrix.AccessToken = token
		}
	}
	if addr, ok := lookupEnv(EnvAdminAPIAddr); ok && addr != "" {
		c.AdminAPIAddr = addr
	}
}

// PostProcess validates the config and derives durations.
func (c *Config) PostProcess() error {
	var errs []error
	switch c.Platform {
	case PlatformMattermost:
		if c.Mattermost.ServerURL == "" {
			errs = append(errs, errors.New("mattermost.server_url is required"))
		}
		if c.Mattermost.Token == "" {
			errs = append(errs, fmt.Errorf("mattermost.token or %s is required", EnvToken))
		}
	case PlatformMatrix:
		if c.Matrix.HomeserverURL == "" {
			errs = append(errs, errors.New("matrix.homeserver_url is required"))
		}
		if c.Matrix.UserID == "" {
			errs = append(errs, errors.New("matrix.user_id is required"))
		}
		if c.Matrix.AccessToken == "" {
			errs = append(errs, fmt.Errorf("matrix.access_token or %s is required", EnvToken))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown platform %q", c.Platform))
	}

	if c.Channels.ModMail == "" || c.Channels.CodeSubmissions == "" || c.Channels.BugReports == "" {
		errs = append(errs, errors.New("channels.mod_mail, channels.code_submissions and channels.bug_reports are required"))
	}

	glyphs := map[string]bool{}
	for _, g := range []string{c.Menu.ModMail, c.Menu.EventSubmission, c.Menu.BugReport} {
		if g == "" {
			errs = append(errs, errors.New("menu glyphs must not be empty"))
			break
		}
		if glyphs[g] {
			errs = append(errs, fmt.Errorf("menu glyph %q is used twice", g))
		}
		glyphs[g] = true
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("invalid logging.level: %w", err))
	}

	if c.ReplyTimeoutSeconds <= 0 {
		c.ReplyTimeout = modmail.DefaultReplyTimeout
	} else {
		c.ReplyTimeout = time.Duration(c.ReplyTimeoutSeconds) * time.Second
	}
	if c.MenuCooldownSeconds <= 0 {
		c.MenuCooldown = -1
	} else {
		c.MenuCooldown = time.Duration(c.MenuCooldownSeconds) * time.Second
	}
	return errors.Join(errs...)
}

// ModMailChannels returns the staff channels in the form the flows use.
func (c *Config) ModMailChannels() modmail.Channels {
	return modmail.Channels{
		ModMail:         c.Channels.ModMail,
		CodeSubmissions: c.Channels.CodeSubmissions,
		BugReports:      c.Channels.BugReports,
	}
}

// ModMailMenu returns the menu with the configured glyphs.
func (c *Config) ModMailMenu() modmail.Menu {
	menu := modmail.DefaultMenu()
	for i := range menu {
		switch menu[i].Kind {
		case modmail.FlowModMail:
			menu[i].Glyph = c.Menu.ModMail
		case modmail.FlowEventSubmission:
			menu[i].Glyph = c.Menu.EventSubmission
		case modmail.FlowBugReport:
			menu[i].Glyph = c.Menu.BugReport
		}
	}
	return menu
}

// NewLogger builds the root logger described by the logging section.
func (c *Config) NewLogger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if c.Logging.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
