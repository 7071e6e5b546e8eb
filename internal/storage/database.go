package storage

import (
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"

	"agentrag/internal/config"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteBusyTimeout = "PRAGMA busy_timeout = 5000"

// Open connects to the database configured under dbType ("sqlite3" or "mysql").
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		db, err = openSQLite(dbCfg.DSN)
	case "mysql":
		db, err = openMySQL(dbCfg)
	default:
		err = fmt.Errorf("unsupported driver: %s", dbType)
	}
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", dbType, err)
	}
	return db, nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn must be provided")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if dsn == ":memory:" {
		// each pooled connection opens its own :memory: database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(sqliteBusyTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	return db, nil
}

func openMySQL(dbCfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := dbCfg.DSN
	if dsn == "" {
		var err error
		if dsn, err = mysqlDSN(dbCfg); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql database: %w", err)
	}
	return db, nil
}

// mysqlDSN builds a DSN from discrete settings. Params default to parseTime=true.
func mysqlDSN(dbCfg config.DatabaseConfig) (string, error) {
	base := mysql.NewConfig()
	base.Net = "tcp"
	base.Addr = net.JoinHostPort(dbCfg.Host, strconv.Itoa(dbCfg.Port))
	base.User = dbCfg.Username
	base.Passwd = dbCfg.Password
	base.DBName = dbCfg.DBName

	params := dbCfg.Params
	if params == "" {
		params = "parseTime=true"
	}
	sep := "?"
	dsn := base.FormatDSN()
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	parsed, err := mysql.ParseDSN(dsn + sep + params)
	if err != nil {
		return "", fmt.Errorf("build mysql dsn: %w", err)
	}
	return parsed.FormatDSN(), nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS passages (
				id TEXT NOT NULL,
				client_id TEXT NOT NULL,
				collection TEXT NOT NULL,
				content TEXT NOT NULL,
				file_name TEXT NOT NULL DEFAULT '',
				file_path TEXT NOT NULL DEFAULT '',
				page_number INTEGER NOT NULL DEFAULT 0,
				metadata TEXT,
				embedding BLOB NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (client_id, collection, id)
			)`,
			`CREATE TABLE IF NOT EXISTS api_keys (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				client_id TEXT NOT NULL,
				key_hash TEXT NOT NULL UNIQUE,
				created_at DATETIME NOT NULL,
				revoked_at DATETIME
			)`,
			`CREATE INDEX IF NOT EXISTS idx_api_keys_client ON api_keys(client_id)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS passages (
				id VARCHAR(128) NOT NULL,
				client_id VARCHAR(128) NOT NULL,
				collection VARCHAR(64) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				file_name VARCHAR(255) NOT NULL DEFAULT '',
				file_path VARCHAR(1024) NOT NULL DEFAULT '',
				page_number INT NOT NULL DEFAULT 0,
				metadata TEXT,
				embedding MEDIUMBLOB NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (client_id, collection, id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS api_keys (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				client_id VARCHAR(128) NOT NULL,
				key_hash CHAR(64) NOT NULL,
				created_at DATETIME NOT NULL,
				revoked_at DATETIME NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_api_keys_hash (key_hash),
				INDEX idx_api_keys_client (client_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
