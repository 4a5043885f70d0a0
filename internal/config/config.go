// Package config loads and validates the watch configuration. Values come
// from command-line flags, INOTIFYEXEC_* environment variables, an optional
// config file and built-in defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/inotifyexec/inotifyexec/internal/dispatch"
	"github.com/inotifyexec/inotifyexec/internal/events"
	"github.com/inotifyexec/inotifyexec/internal/watcher"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "INOTIFYEXEC"

// Keys shared by flags, environment variables and config files.
const (
	KeyDirectory       = "directory"
	KeyCommand         = "command"
	KeyDelay           = "delay"
	KeyEvents          = "events"
	KeyFilter          = "filter"
	KeyRecursive       = "recursive"
	KeyVerbose         = "verbose"
	KeyInitialRun      = "initial-run"
	KeyExclude         = "exclude"
	KeyGitIgnore       = "gitignore"
	KeyBackend         = "backend"
	KeyRestartInterval = "restart-interval"
	KeyHistory         = "history"
	KeySocket          = "socket"
)

// Defaults.
const (
	DefaultDelay           = 1.0
	DefaultRestartInterval = 500 * time.Millisecond
	noFilter               = "None"
)

// ErrInvalid wraps every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the immutable watch configuration.
type Config struct {
	Directory       string        `mapstructure:"directory"`
	Command         []string      `mapstructure:"command"`
	Delay           float64       `mapstructure:"delay"`
	Events          string        `mapstructure:"events"`
	Filter          string        `mapstructure:"filter"`
	Recursive       bool          `mapstructure:"recursive"`
	Verbose         int           `mapstructure:"verbose"`
	InitialRun      bool          `mapstructure:"initial-run"`
	Exclude         []string      `mapstructure:"exclude"`
	GitIgnore       bool          `mapstructure:"gitignore"`
	Backend         string        `mapstructure:"backend"`
	RestartInterval time.Duration `mapstructure:"restart-interval"`
	HistoryPath     string        `mapstructure:"history"`
	SocketPath      string        `mapstructure:"socket"`

	// Mask is derived from Events by Validate.
	Mask events.Mask `mapstructure:"-"`

	filter *regexp.Regexp
}

// RegisterFlags defines the watch flags on fs. Flag names equal config keys
// so the set can be bound with viper.BindPFlags.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Float64P(KeyDelay, "d", DefaultDelay, "seconds of quiet required before the command runs")
	fs.StringP(KeyEvents, "e", events.DefaultList, "comma-separated events to watch")
	fs.StringP(KeyFilter, "f", "", "only run for paths matching this regular expression")
	fs.BoolP(KeyRecursive, "r", false, "watch subdirectories too")
	fs.CountP(KeyVerbose, "v", "print status messages, repeat for more detail")
	fs.Bool(KeyInitialRun, false, "run the command once at startup")
	fs.StringArray(KeyExclude, nil, "glob of path components to ignore (repeatable)")
	fs.Bool(KeyGitIgnore, false, "ignore paths matched by DIRECTORY/.gitignore")
	fs.String(KeyBackend, watcher.BackendAuto, "watch backend: auto, inotify or fsnotify")
	fs.Duration(KeyRestartInterval, DefaultRestartInterval, "pause before re-establishing a failed watch")
	fs.String(KeyHistory, "", "record every run in this SQLite database")
	fs.String(KeySocket, "", "serve status and stop requests on this unix socket")
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDelay, DefaultDelay)
	v.SetDefault(KeyEvents, events.DefaultList)
	v.SetDefault(KeyFilter, "")
	v.SetDefault(KeyRecursive, false)
	v.SetDefault(KeyVerbose, 0)
	v.SetDefault(KeyInitialRun, false)
	v.SetDefault(KeyExclude, []string{})
	v.SetDefault(KeyGitIgnore, false)
	v.SetDefault(KeyBackend, watcher.BackendAuto)
	v.SetDefault(KeyRestartInterval, DefaultRestartInterval)
	v.SetDefault(KeyHistory, "")
	v.SetDefault(KeySocket, "")
	v.SetDefault(KeyDirectory, "")
	v.SetDefault(KeyCommand, []string{})
}

// Load reads configFile (if non-empty) and the environment into v, decodes
// the result and validates it.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read config file %s: %w", ErrInvalid, configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field and derives Mask and the compiled filter.
// All errors wrap ErrInvalid.
func (c *Config) Validate() error {
	if c.Directory == "" {
		return fmt.Errorf("%w: missing directory", ErrInvalid)
	}
	info, err := os.Stat(c.Directory)
	if err != nil {
		return fmt.Errorf("%w: directory %q: %w", ErrInvalid, c.Directory, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %q is not a directory", ErrInvalid, c.Directory)
	}
	c.Directory = filepath.Clean(c.Directory)

	if len(c.Command) == 0 || c.Command[0] == "" {
		return fmt.Errorf("%w: missing command", ErrInvalid)
	}

	if c.Delay < 0 || math.IsNaN(c.Delay) || math.IsInf(c.Delay, 0) {
		return fmt.Errorf("%w: delay must be a non-negative number of seconds, got %v", ErrInvalid, c.Delay)
	}

	mask, err := events.Parse(c.Events)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	c.Mask = mask

	c.filter = nil
	if c.Filter != "" && c.Filter != noFilter {
		re, err := regexp.Compile(c.Filter)
		if err != nil {
			return fmt.Errorf("%w: filter: %w", ErrInvalid, err)
		}
		c.filter = re
	}

	if _, err := dispatch.NewExcludeFilter(c.Directory, c.Exclude); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if !watcher.ValidBackend(c.Backend) {
		return fmt.Errorf("%w: unknown or unsupported backend %q", ErrInvalid, c.Backend)
	}
	if c.RestartInterval < 0 {
		return fmt.Errorf("%w: restart interval must not be negative", ErrInvalid)
	}
	return nil
}

// FilterRegexp returns the compiled include filter, or nil when every path
// is kept.
func (c *Config) FilterRegexp() *regexp.Regexp {
	return c.filter
}

// DelayDuration returns Delay as a time.Duration.
func (c *Config) DelayDuration() time.Duration {
	return time.Duration(c.Delay * float64(time.Second))
}
