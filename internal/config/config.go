// Package config loads run configuration from environment variables and an
// optional .env file, validates it, and hands each package its options.
//
// Variables already set in the environment always win over .env entries.
package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/uimatrix/internal/artifacts"
	"github.com/kuitang/uimatrix/internal/ratelimit"
	"github.com/kuitang/uimatrix/internal/reaper"
	"github.com/kuitang/uimatrix/internal/session"
)

const (
	defaultBaseURL  = "http://localhost:3000"
	defaultS3Region = "auto"
)

// Config holds all run configuration.
type Config struct {
	// Application under test
	BaseURL     string
	AppUser     string // APP_USER
	AppPassword string // APP_PASSWORD

	// Browser
	Browser          string
	Headless         bool
	SlowMo           time.Duration
	StorageStatePath string
	Viewport         *session.Size
	WindowPosition   *session.Point
	WindowSize       *session.Size
	Timeout          time.Duration
	StepTimeout      time.Duration
	KeepBrowser      bool
	SkipInstall      bool

	// Auxiliary windows
	ReapTimeout time.Duration
	ReapGrace   time.Duration

	// Action pacing
	Pacing ratelimit.Config

	// Failure artifacts: a local directory, an S3 bucket, or neither.
	ArtifactsDir       string
	ArtifactsBucket    string // ARTIFACTS_BUCKET
	ArtifactsPrefix    string // ARTIFACTS_PREFIX
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY

	// Parallel groups
	Parallel int

	// Issues holds values that were set but could not be parsed; Validate
	// reports them.
	Issues []string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the environment without validating.
func FromEnv() *Config {
	cfg := &Config{}
	p := &envParser{}

	cfg.BaseURL = strings.TrimRight(getEnvOrDefault("BASE_URL", defaultBaseURL), "/")
	cfg.AppUser = getEnvOrDefault("APP_USER", "")
	cfg.AppPassword = os.Getenv("APP_PASSWORD")

	cfg.Browser = getEnvOrDefault("BROWSER", session.Chromium)
	cfg.Headless = p.boolOr("HEADLESS", true)
	cfg.SlowMo = p.durationOr("SLOW_MO", 0)
	cfg.StorageStatePath = getEnvOrDefault("STORAGE_STATE", "")
	cfg.Viewport = p.size("VIEWPORT")
	cfg.WindowPosition = p.point("WINDOW_POSITION")
	cfg.WindowSize = p.size("WINDOW_SIZE")
	cfg.Timeout = p.durationOr("TIMEOUT", session.DefaultTimeout)
	cfg.StepTimeout = p.durationOr("STEP_TIMEOUT", 0)
	cfg.KeepBrowser = p.boolOr("KEEP_BROWSER", false)
	cfg.SkipInstall = p.boolOr("SKIP_INSTALL", false)

	cfg.ReapTimeout = p.durationOr("REAP_TIMEOUT", reaper.DefaultTimeout)
	cfg.ReapGrace = p.durationOr("REAP_GRACE", reaper.DefaultGrace)

	cfg.Pacing = ratelimit.Config{
		RPS:             p.floatOr("ACTION_RPS", ratelimit.DefaultConfig.RPS),
		Burst:           p.intOr("ACTION_BURST", ratelimit.DefaultConfig.Burst),
		CleanupInterval: ratelimit.DefaultConfig.CleanupInterval,
	}

	cfg.ArtifactsDir = getEnvOrDefault("ARTIFACTS_DIR", "")
	cfg.ArtifactsBucket = getEnvOrDefault("ARTIFACTS_BUCKET", "")
	cfg.ArtifactsPrefix = getEnvOrDefault("ARTIFACTS_PREFIX", "")
	cfg.AWSEndpointS3 = getEnvOrDefault("AWS_ENDPOINT_URL_S3", "")
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultS3Region)
	cfg.AWSAccessKeyID = getEnvOrDefault("AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretAccessKey = getEnvOrDefault("AWS_SECRET_ACCESS_KEY", "")

	cfg.Parallel = p.intOr("PARALLEL", 1)

	cfg.Issues = p.issues
	return cfg
}

// Validate checks that the configuration can start a run.
func (c *Config) Validate() error {
	errs := append([]string(nil), c.Issues...)

	if err := c.SessionOptions().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Timeout <= 0 {
		errs = append(errs, "TIMEOUT must be positive")
	}
	if c.StepTimeout < 0 {
		errs = append(errs, "STEP_TIMEOUT must not be negative")
	}
	if c.ReapTimeout <= 0 {
		errs = append(errs, "REAP_TIMEOUT must be positive")
	}
	if c.ReapGrace < 0 {
		errs = append(errs, "REAP_GRACE must not be negative")
	}
	if c.Pacing.RPS < 0 {
		errs = append(errs, "ACTION_RPS must not be negative")
	}
	if c.Pacing.Burst <= 0 {
		errs = append(errs, "ACTION_BURST must be positive")
	}
	if c.Parallel <= 0 {
		errs = append(errs, "PARALLEL must be positive")
	}
	if c.ArtifactsDir != "" && c.ArtifactsBucket != "" {
		errs = append(errs, "set only one of ARTIFACTS_DIR and ARTIFACTS_BUCKET")
	}
	if (c.AWSAccessKeyID == "") != (c.AWSSecretAccessKey == "") {
		errs = append(errs, "AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ValidateCredentials checks the login credentials used by auth capture.
func (c *Config) ValidateCredentials() error {
	var errs []string
	if c.AppUser == "" {
		errs = append(errs, "APP_USER is required to capture auth state")
	}
	if c.AppPassword == "" {
		errs = append(errs, "APP_PASSWORD is required to capture auth state")
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// SessionOptions returns the browser session options.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		BaseURL:          c.BaseURL,
		Browser:          c.Browser,
		Headless:         c.Headless,
		SlowMo:           c.SlowMo,
		WindowPosition:   c.WindowPosition,
		WindowSize:       c.WindowSize,
		Viewport:         c.Viewport,
		StorageStatePath: c.StorageStatePath,
		Timeout:          c.Timeout,
		KeepBrowser:      c.KeepBrowser,
		SkipInstall:      c.SkipInstall,
		Reaper:           reaper.Config{Timeout: c.ReapTimeout, Grace: c.ReapGrace},
	}
}

// Credentials returns the login credentials.
func (c *Config) Credentials() session.Credentials {
	return session.Credentials{User: c.AppUser, Password: c.AppPassword}
}

// S3Config returns the artifact bucket configuration.
func (c *Config) S3Config() artifacts.S3Config {
	return artifacts.S3Config{
		Endpoint:        c.AWSEndpointS3,
		Region:          c.AWSRegion,
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccessKey,
		BucketName:      c.ArtifactsBucket,
		Prefix:          c.ArtifactsPrefix,
		UsePathStyle:    c.AWSEndpointS3 != "",
	}
}

// ArtifactStore returns where failure artifacts go: the bucket when one is
// configured, else the directory, else nowhere.
func (c *Config) ArtifactStore(ctx context.Context) (artifacts.Store, error) {
	switch {
	case c.ArtifactsBucket != "":
		store, err := artifacts.NewS3Store(ctx, c.S3Config())
		if err != nil {
			return nil, fmt.Errorf("artifact bucket: %w", err)
		}
		return store, nil
	case c.ArtifactsDir != "":
		return artifacts.DirStore{Root: c.ArtifactsDir}, nil
	default:
		return artifacts.Discard{}, nil
	}
}

// Pacer returns the action pacer, or nil when pacing is off. The caller
// stops it after the run.
func (c *Config) Pacer() *ratelimit.RateLimiter {
	if c.Pacing.RPS <= 0 {
		return nil
	}
	return ratelimit.NewRateLimiter(c.Pacing)
}

// Fixture assembles a session fixture from the configuration. The returned
// release func closes the shared browser and stops the pacer.
func (c *Config) Fixture(ctx context.Context, rules session.RuleFunc) (*session.Fixture, func(), error) {
	store, err := c.ArtifactStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	pacer := c.Pacer()
	fixture, err := session.NewFixture(c.SessionOptions(),
		session.WithRules(rules),
		session.WithPacer(pacer),
		session.WithArtifacts(store),
	)
	if err != nil {
		if pacer != nil {
			pacer.Stop()
		}
		return nil, nil, err
	}
	release := func() {
		_ = fixture.Close()
		if pacer != nil {
			pacer.Stop()
		}
	}
	return fixture, release, nil
}

// PrintSummary writes a human-readable summary without secrets.
func (c *Config) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "  Base:      %s\n", c.BaseURL)
	fmt.Fprintf(w, "  Browser:   %s (headless=%t, slow-mo=%s)\n", c.Browser, c.Headless, c.SlowMo)
	if c.Viewport != nil {
		fmt.Fprintf(w, "  Viewport:  %s\n", c.Viewport)
	}
	if c.StorageStatePath != "" {
		fmt.Fprintf(w, "  State:     %s\n", c.StorageStatePath)
	}
	fmt.Fprintf(w, "  Timeout:   %s\n", c.Timeout)
	if c.Pacing.RPS > 0 {
		fmt.Fprintf(w, "  Pacing:    %.2f actions/s (burst %d)\n", c.Pacing.RPS, c.Pacing.Burst)
	}
	switch {
	case c.ArtifactsBucket != "":
		fmt.Fprintf(w, "  Artifacts: s3://%s/%s\n", c.ArtifactsBucket, c.ArtifactsPrefix)
	case c.ArtifactsDir != "":
		fmt.Fprintf(w, "  Artifacts: %s\n", c.ArtifactsDir)
	default:
		fmt.Fprintln(w, "  Artifacts: off")
	}
	if c.AppUser != "" {
		fmt.Fprintf(w, "  User:      %s\n", c.AppUser)
	}
}

// LoadDotEnv sets KEY=VALUE lines from path for keys not already set. A
// missing file is not an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		val := strings.TrimSpace(line[i+1:])
		if key == "" || val == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// envParser records malformed values instead of silently defaulting them.
type envParser struct {
	issues []string
}

func (p *envParser) bad(key, value, want string) {
	p.issues = append(p.issues, fmt.Sprintf("%s=%q is not %s", key, value, want))
}

func (p *envParser) intOr(key string, defaultValue int) int {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		p.bad(key, value, "an integer")
		return defaultValue
	}
	return parsed
}

func (p *envParser) floatOr(key string, defaultValue float64) float64 {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.bad(key, value, "a number")
		return defaultValue
	}
	return parsed
}

func (p *envParser) boolOr(key string, defaultValue bool) bool {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		p.bad(key, value, "a boolean")
		return defaultValue
	}
	return parsed
}

// durationOr accepts Go durations ("1.5s") and bare milliseconds ("250").
func (p *envParser) durationOr(key string, defaultValue time.Duration) time.Duration {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		p.bad(key, value, "a duration")
		return defaultValue
	}
	return parsed
}

// size parses "1280x720".
func (p *envParser) size(key string) *session.Size {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return nil
	}
	w, h, ok := parsePair(strings.ToLower(value), "x")
	if !ok {
		p.bad(key, value, "WIDTHxHEIGHT")
		return nil
	}
	return &session.Size{Width: w, Height: h}
}

// point parses "0,0".
func (p *envParser) point(key string) *session.Point {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return nil
	}
	x, y, ok := parsePair(value, ",")
	if !ok {
		p.bad(key, value, "X,Y")
		return nil
	}
	return &session.Point{X: x, Y: y}
}

func parsePair(value, sep string) (int, int, bool) {
	a, b, found := strings.Cut(value, sep)
	if !found {
		return 0, 0, false
	}
	x, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, false
	}
	y, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}
