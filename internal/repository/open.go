package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/mulerift/internal/domain"
)

const pingTimeout = 5 * time.Second

// sqlitePragmas tune the archive for a single writer storing large JSON
// result documents.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(10000)",
	"temp_store(MEMORY)",
	"cache_size(-16000)",
}

// pool holds connection pool defaults per driver.
type pool struct {
	maxOpen, maxIdle int
	maxLifetime      time.Duration
}

var poolDefaults = map[string]pool{
	// SQLite serializes writers; more connections only add lock contention.
	"sqlite":   {maxOpen: 1, maxIdle: 1},
	"postgres": {maxOpen: 10, maxIdle: 5, maxLifetime: 30 * time.Minute},
}

// dataSource returns the database/sql driver name and DSN for cfg.
func dataSource(cfg domain.RepositoryConfig) (driver, dsn string, err error) {
	switch cfg.Driver {
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "./mulerift.db"
		}
		q := url.Values{"_pragma": sqlitePragmas, "_txlock": {"immediate"}}
		return "sqlite", "file:" + path + "?" + q.Encode(), nil

	case "postgres":
		host := cfg.PostgresHost
		if host == "" {
			host = "localhost"
		}
		port := cfg.PostgresPort
		if port == 0 {
			port = 5432
		}
		name := cfg.PostgresDB
		if name == "" {
			name = "mulerift"
		}
		sslMode := cfg.PostgresSSLMode
		if sslMode == "" {
			sslMode = "disable"
		}

		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(host, strconv.Itoa(port)),
			Path:   "/" + name,
			RawQuery: url.Values{
				"sslmode":          {sslMode},
				"application_name": {"mulerift"},
				"connect_timeout":  {"5"},
			}.Encode(),
		}
		if cfg.PostgresUser != "" {
			u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
		}
		return "postgres", u.String(), nil

	default:
		return "", "", fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}

// open connects to the archive database and applies pool settings.
func open(cfg domain.RepositoryConfig) (*sql.DB, error) {
	driver, dsn, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" {
		if dir := filepath.Dir(cfg.SQLitePath); cfg.SQLitePath != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	configurePool(db, driver, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	return db, nil
}

// configurePool applies configured pool limits, falling back to the
// driver defaults.
func configurePool(db *sql.DB, driver string, cfg domain.RepositoryConfig) {
	p := poolSettings(driver, cfg)
	db.SetMaxOpenConns(p.maxOpen)
	db.SetMaxIdleConns(p.maxIdle)
	db.SetConnMaxLifetime(p.maxLifetime)
}

func poolSettings(driver string, cfg domain.RepositoryConfig) pool {
	p := poolDefaults[driver]
	if cfg.MaxOpenConns > 0 {
		p.maxOpen = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		p.maxIdle = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		p.maxLifetime = cfg.ConnMaxLifetime
	}
	return p
}
