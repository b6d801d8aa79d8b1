package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/attendance"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/config"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database/memory"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database/postgres"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database/sqlstore"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/extractor"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/facematch"
)

// statusOut receives startup messages. The mcp command points it at stderr.
var statusOut io.Writer = os.Stdout

// backendKind returns the storage engine selected by a DATABASE_URL.
func backendKind(rawURL string) string {
	scheme, _, found := strings.Cut(rawURL, "://")
	if !found {
		if strings.HasPrefix(rawURL, "file:") || strings.HasPrefix(rawURL, "sqlite:") {
			return "sqlite"
		}
		if rawURL == "memory" || rawURL == "memory:" {
			return "memory"
		}
		return "sqlite" // plain file path
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return "postgres"
	case "mysql", "mariadb":
		return "mysql"
	case "sqlite", "sqlite3", "file":
		return "sqlite"
	case "memory":
		return "memory"
	}
	return scheme
}

// openBackend connects to the storage engine named by cfg.URL and applies migrations.
func openBackend(ctx context.Context, cfg *config.DatabaseConfig) (database.Backend, error) {
	url := cfg.URL
	if url == "" {
		url = config.DefaultDatabaseURL()
	}

	switch kind := backendKind(url); kind {
	case "postgres":
		fmt.Fprintf(statusOut, "Connecting to PostgreSQL database...\n")
		pgCfg := *cfg
		pgCfg.URL = url
		return postgres.Open(ctx, &pgCfg)
	case "mysql":
		fmt.Fprintf(statusOut, "Connecting to MySQL database...\n")
		return sqlstore.OpenMySQL(ctx, url, cfg.MaxOpenConns, cfg.MaxIdleConns)
	case "sqlite":
		path := sqlstore.SQLitePath(url)
		fmt.Fprintf(statusOut, "Using SQLite database at %s\n", path)
		return sqlstore.OpenSQLite(ctx, path)
	case "memory":
		fmt.Fprintf(statusOut, "Using in-memory storage (data is lost on exit)\n")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", kind)
	}
}

// newMatcher builds the matcher from config, attaching the HNSW shortlist when enabled.
func newMatcher(cfg *config.MatchingConfig) (*facematch.Matcher, error) {
	metric, err := facematch.ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	m, err := facematch.NewMatcher(facematch.Config{
		Metric:      metric,
		Threshold:   cfg.Threshold,
		MaxDistance: cfg.MaxDistance,
		Epsilon:     cfg.Epsilon,
		Normalize:   cfg.Normalize,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Index == "hnsw" {
		fmt.Fprintf(statusOut, "Using HNSW shortlist of %d students\n", cfg.Shortlist)
		m = m.WithIndex(facematch.NewIndex(metric, cfg.Normalize, cfg.Shortlist))
	}
	return m, nil
}

// newService wires storage, extractor and matcher. The caller closes the backend.
func newService(ctx context.Context, cfg *config.Config) (*attendance.Service, database.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	loc, err := cfg.Attendance.Location()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timezone: %w", err)
	}
	matcher, err := newMatcher(&cfg.Matching)
	if err != nil {
		return nil, nil, err
	}

	backend, err := openBackend(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	client := extractor.NewClient(extractor.ClientOptions{
		URL:         cfg.Embedding.URL,
		Dim:         cfg.Embedding.Dim,
		Timeout:     cfg.Embedding.Timeout,
		MinDetScore: cfg.Embedding.MinDetScore,
	})

	svc := attendance.NewService(backend, client, matcher, attendance.Options{
		Location:   loc,
		LateAfter:  cfg.Attendance.LateAfter,
		MaxRetries: cfg.Ledger.MaxRetries,
		RetryDelay: cfg.Ledger.RetryDelay,
	})
	return svc, backend, nil
}
