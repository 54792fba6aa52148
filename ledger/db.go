package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"
)

type DBConfig struct {
	// sqlite://path/to/file.db, sqlite=path, postgres://..., postgresql://... or postgres=<dsn>
	URL            string
	MaxConnections int
	// registers the gorm opentelemetry plugin
	Tracing bool
}

// OpenDB parses a DATABASE_URL style string and returns a configured gorm
// handle. sqlite databases are limited to a single open connection and put
// in WAL mode; this makes sqlite writers serialize, which the ledger relies
// on for approval claims.
func OpenDB(config DBConfig) (*gorm.DB, error) {
	var dial gorm.Dialector
	dburl := config.URL

	isSqlite := false
	openConns := config.MaxConnections
	if openConns <= 0 {
		openConns = 10
	}
	switch {
	case strings.HasPrefix(dburl, "sqlite://"), strings.HasPrefix(dburl, "sqlite="):
		path := strings.TrimPrefix(strings.TrimPrefix(dburl, "sqlite://"), "sqlite=")
		if !strings.Contains(path, ":memory:") {
			if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
				return nil, fmt.Errorf("creating sqlite directory: %w", err)
			}
		}
		dial = sqlite.Open(path)
		openConns = 1
		isSqlite = true
	case strings.HasPrefix(dburl, "postgresql://"), strings.HasPrefix(dburl, "postgres://"):
		dial = postgres.Open(dburl)
	case strings.HasPrefix(dburl, "postgres="):
		dial = postgres.Open(strings.TrimPrefix(dburl, "postgres="))
	default:
		return nil, fmt.Errorf("unsupported or unrecognized DATABASE_URL scheme")
	}

	db, err := gorm.Open(dial, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 slogGorm.New(),
	})
	if err != nil {
		return nil, err
	}

	sqldb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxIdleConns(openConns)
	sqldb.SetMaxOpenConns(openConns)
	sqldb.SetConnMaxIdleTime(time.Hour)

	if isSqlite {
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			return nil, err
		}
		if err := db.Exec("PRAGMA synchronous=normal;").Error; err != nil {
			return nil, err
		}
		if err := db.Exec("PRAGMA busy_timeout=5000;").Error; err != nil {
			return nil, err
		}
	}

	if config.Tracing {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}

	return db, nil
}
