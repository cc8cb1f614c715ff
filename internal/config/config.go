package config

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Defaults applied when the corresponding OPENDEV_* variable is unset.
const (
	DefaultRepository = "openstack/barbican"
	DefaultStatus     = "merged"
	DefaultAge        = "1d"
	DefaultGerritURL  = "https://review.opendev.org"
)

// Config holds the settings for one report run. All values come from the
// environment; there are no command-line flags and no config file.
type Config struct {
	// Repository is the Gerrit project to search, e.g. "openstack/barbican".
	Repository string
	// Status filters changes by review state, e.g. "merged".
	Status string
	// MergedAfter is an explicit YYYY-MM-DD cutoff. When empty, the cutoff
	// is derived from Age.
	MergedAfter string
	// Age is an age expression such as "1d", "36h" or "90m".
	Age string
	// GerritURL is the review server base URL, without a trailing slash.
	GerritURL string
	// DryRun skips all network activity and reports an empty change set.
	DryRun bool
	// Verbose enables progress narration on stderr. Errors are always logged.
	Verbose bool
}

// Load reads configuration from the environment, after a best-effort load of
// a local .env file. Missing variables fall back to defaults and malformed
// values degrade silently, so Load cannot fail.
func Load() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("opendev")
	v.AutomaticEnv()

	v.SetDefault("repo_name", DefaultRepository)
	v.SetDefault("status", DefaultStatus)
	v.SetDefault("age", DefaultAge)
	v.SetDefault("gerrit_url", DefaultGerritURL)

	return &Config{
		Repository:  v.GetString("repo_name"),
		Status:      v.GetString("status"),
		MergedAfter: v.GetString("merged_after"),
		Age:         v.GetString("age"),
		GerritURL:   strings.TrimRight(v.GetString("gerrit_url"), "/"),
		DryRun:      v.GetBool("dry_run"),
		Verbose:     v.GetBool("log"),
	}
}

// ResolveMergedAfter returns the cutoff date for the search query. An explicit
// MergedAfter value wins; otherwise the Age expression is converted to a date
// relative to now.
func (c *Config) ResolveMergedAfter(now time.Time) string {
	if c.MergedAfter != "" {
		return c.MergedAfter
	}
	return ageToDate(c.Age, now)
}

var agePattern = regexp.MustCompile(`^(\d+)([dhm])$`)

// ageToDate converts an age expression like "7d", "36h" or "90m" to the
// YYYY-MM-DD date that far in the past, at day granularity. Hours and minutes
// round down to whole days with a floor of one day. Anything unparseable
// resolves to one day: a malformed expression must not abort the run.
func ageToDate(age string, now time.Time) string {
	if age == "" {
		age = DefaultAge
	}

	days := 1
	if m := agePattern.FindStringSubmatch(strings.ToLower(age)); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			switch m[2] {
			case "d":
				days = n
			case "h":
				days = max(1, n/24)
			case "m":
				days = max(1, n/(24*60))
			}
		}
	}

	return now.AddDate(0, 0, -days).Format("2006-01-02")
}
