package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

//go:embed matching.yaml
var matchingYAML []byte

// AppName is used for the data directory and token issuer.
const AppName = "face-attendance"

type Config struct {
	Database   DatabaseConfig
	Embedding  EmbeddingConfig
	Matching   MatchingConfig
	Attendance AttendanceConfig
	Ledger     LedgerConfig
	Web        WebConfig
	Auth       AuthConfig
	Profiles   ProfilesConfig
}

type DatabaseConfig struct {
	URL          string // postgres://, mysql://, sqlite://, memory:// or a file path
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type EmbeddingConfig struct {
	URL         string        // defaults to http://localhost:8000
	Dim         int           // expected embedding length, 0 accepts whatever the service returns
	Timeout     time.Duration // per-request timeout (default 30s)
	MinDetScore float64       // faces below this detection score are ignored
}

type MatchingConfig struct {
	Metric      string  // cosine or euclidean
	Threshold   float64 // maximum accepted distance
	MaxDistance float64 // distance that maps to zero confidence
	Epsilon     float64 // tie tolerance
	Normalize   bool
	Index       string // "" (exact) or "hnsw"
	Shortlist   int    // students shortlisted by the index
}

type AttendanceConfig struct {
	Timezone  string        // IANA name, defaults to Local
	LateAfter time.Duration // offset from local midnight; 0 disables Late

	lateAfterErr error // set by Load when ATTENDANCE_LATE_AFTER does not parse
}

type LedgerConfig struct {
	MaxRetries int
	RetryDelay time.Duration
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

type AuthConfig struct {
	JWTSecret string // empty disables API authentication
}

// ProfilesConfig holds the embedded per-metric calibration.
type ProfilesConfig struct {
	Metrics map[string]MetricProfile `yaml:"metrics"`
	Index   struct {
		Shortlist int `yaml:"shortlist"`
	} `yaml:"index"`
}

type MetricProfile struct {
	Threshold   float64 `yaml:"threshold"`
	MaxDistance float64 `yaml:"max_distance"`
	Epsilon     float64 `yaml:"epsilon"`
}

// Location resolves the configured timezone.
func (c *AttendanceConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Addr returns the listen address.
func (c *WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultDatabaseURL returns the SQLite file under the XDG data directory.
func DefaultDatabaseURL() string {
	return "sqlite://" + filepath.Join(xdg.DataHome, AppName, "attendance.db")
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for part := range strings.SplitSeq(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// canonicalMetric folds metric aliases onto the profile names in matching.yaml.
func canonicalMetric(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "l2" {
		return "euclidean"
	}
	return s
}

func Load() *Config {
	var profiles ProfilesConfig
	if err := yaml.Unmarshal(matchingYAML, &profiles); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded matching.yaml: " + err.Error())
	}

	metric := canonicalMetric(envString("MATCH_METRIC", "cosine"))
	profile := profiles.Metrics[metric]

	var (
		lateAfter    time.Duration
		lateAfterErr error
	)
	if s := os.Getenv("ATTENDANCE_LATE_AFTER"); s != "" {
		lateAfter, lateAfterErr = ParseClock(s)
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          envString("DATABASE_URL", DefaultDatabaseURL()),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Embedding: EmbeddingConfig{
			URL:         envString("EMBEDDING_URL", "http://localhost:8000"),
			Dim:         envInt("EMBEDDING_DIM", 0),
			Timeout:     envDuration("EMBEDDING_TIMEOUT", 30*time.Second),
			MinDetScore: envFloat("EMBEDDING_MIN_DET_SCORE", 0.5),
		},
		Matching: MatchingConfig{
			Metric:      metric,
			Threshold:   envFloat("MATCH_THRESHOLD", profile.Threshold),
			MaxDistance: envFloat("MATCH_MAX_DISTANCE", profile.MaxDistance),
			Epsilon:     envFloat("MATCH_EPSILON", profile.Epsilon),
			Normalize:   envBool("MATCH_NORMALIZE", true),
			Index:       strings.ToLower(os.Getenv("MATCH_INDEX")),
			Shortlist:   envInt("MATCH_INDEX_SHORTLIST", profiles.Index.Shortlist),
		},
		Attendance: AttendanceConfig{
			Timezone:     os.Getenv("ATTENDANCE_TIMEZONE"),
			LateAfter:    lateAfter,
			lateAfterErr: lateAfterErr,
		},
		Ledger: LedgerConfig{
			MaxRetries: envInt("LEDGER_MAX_RETRIES", 3),
			RetryDelay: envDuration("LEDGER_RETRY_DELAY", 100*time.Millisecond),
		},
		Web: WebConfig{
			Host:           os.Getenv("WEB_HOST"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("AUTH_JWT_SECRET"),
		},
		Profiles: profiles,
	}
}

// Validate rejects values that would make the service misbehave.
func (c *Config) Validate() error {
	if _, ok := c.Profiles.Metrics[c.Matching.Metric]; !ok {
		return fmt.Errorf("unknown MATCH_METRIC %q", c.Matching.Metric)
	}
	if c.Matching.Threshold < 0 {
		return fmt.Errorf("MATCH_THRESHOLD must be non-negative, got %v", c.Matching.Threshold)
	}
	if c.Matching.MaxDistance <= 0 {
		return fmt.Errorf("MATCH_MAX_DISTANCE must be positive, got %v", c.Matching.MaxDistance)
	}
	if c.Matching.Epsilon < 0 {
		return fmt.Errorf("MATCH_EPSILON must be non-negative, got %v", c.Matching.Epsilon)
	}
	if c.Matching.Index != "" && c.Matching.Index != "hnsw" {
		return fmt.Errorf("unknown MATCH_INDEX %q", c.Matching.Index)
	}
	if _, err := c.Attendance.Location(); err != nil {
		return fmt.Errorf("invalid ATTENDANCE_TIMEZONE: %w", err)
	}
	if c.Attendance.lateAfterErr != nil {
		return fmt.Errorf("invalid ATTENDANCE_LATE_AFTER: %w", c.Attendance.lateAfterErr)
	}
	if c.Attendance.LateAfter >= 24*time.Hour {
		return fmt.Errorf("ATTENDANCE_LATE_AFTER must be within a day")
	}
	if c.Embedding.MinDetScore < 0 || c.Embedding.MinDetScore > 1 {
		return fmt.Errorf("EMBEDDING_MIN_DET_SCORE must be in [0,1], got %v", c.Embedding.MinDetScore)
	}
	return nil
}
