package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"incidentdesk/internal/config"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

const mysqlDuplicateEntry = 1062

// Open connects to the database configured for dbType.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[strings.ToLower(dbType)]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// One connection serialises writers and keeps :memory: databases shared across the pool.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		params := dbCfg.Params
		if params == "" {
			params = "parseTime=true&loc=UTC&charset=utf8mb4"
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// TxOptions returns the transaction options the conversation service should use.
// mysql runs READ COMMITTED so a re-read after a duplicate-key error sees the winning row.
func TxOptions(driver string) *sql.TxOptions {
	if strings.EqualFold(driver, "mysql") {
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	return nil
}

// IsUniqueViolation reports whether err comes from a unique constraint on either supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntry
	}
	return false
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS admins (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				first_name TEXT NOT NULL DEFAULT '',
				last_name TEXT NOT NULL DEFAULT '',
				email TEXT NOT NULL DEFAULT '',
				phone TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS technicians (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				first_name TEXT NOT NULL DEFAULT '',
				last_name TEXT NOT NULL DEFAULT '',
				email TEXT NOT NULL DEFAULT '',
				phone TEXT NOT NULL DEFAULT '',
				available INTEGER NOT NULL DEFAULT 0,
				avatar TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS operators (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL DEFAULT '',
				email TEXT NOT NULL DEFAULT '',
				phone TEXT NOT NULL DEFAULT '',
				disabled INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS discussions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				admin_id INTEGER NOT NULL,
				counterpart_role TEXT NOT NULL CHECK (counterpart_role IN ('operator', 'technician')),
				counterpart_id INTEGER NOT NULL,
				status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived')),
				last_message_at DATETIME NOT NULL,
				created_at DATETIME NOT NULL,
				UNIQUE(admin_id, counterpart_role, counterpart_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_discussions_last_message_at ON discussions(last_message_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_discussions_counterpart ON discussions(counterpart_role, counterpart_id)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				discussion_id INTEGER NOT NULL,
				content TEXT NOT NULL CHECK (content <> ''),
				sender_type TEXT NOT NULL CHECK (sender_type IN ('admin', 'operator', 'technician')),
				sender_id INTEGER NOT NULL,
				status TEXT NOT NULL DEFAULT 'sent' CHECK (status IN ('sent', 'delivered', 'read')),
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY(discussion_id) REFERENCES discussions(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_discussion ON messages(discussion_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_type, sender_id)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS admins (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				first_name VARCHAR(40) NOT NULL DEFAULT '',
				last_name VARCHAR(40) NOT NULL DEFAULT '',
				email VARCHAR(255) NOT NULL DEFAULT '',
				phone VARCHAR(20) NOT NULL DEFAULT '',
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS technicians (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				first_name VARCHAR(40) NOT NULL DEFAULT '',
				last_name VARCHAR(40) NOT NULL DEFAULT '',
				email VARCHAR(255) NOT NULL DEFAULT '',
				phone VARCHAR(20) NOT NULL DEFAULT '',
				available TINYINT(1) NOT NULL DEFAULT 0,
				avatar VARCHAR(255) NOT NULL DEFAULT '',
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS operators (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				name VARCHAR(80) NOT NULL DEFAULT '',
				email VARCHAR(255) NOT NULL DEFAULT '',
				phone VARCHAR(20) NOT NULL DEFAULT '',
				disabled TINYINT(1) NOT NULL DEFAULT 0,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS discussions (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				admin_id BIGINT UNSIGNED NOT NULL,
				counterpart_role ENUM('operator', 'technician') NOT NULL,
				counterpart_id BIGINT UNSIGNED NOT NULL,
				status ENUM('active', 'archived') NOT NULL DEFAULT 'active',
				last_message_at DATETIME(6) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_discussion_pair (admin_id, counterpart_role, counterpart_id),
				INDEX idx_discussions_last_message_at (last_message_at),
				INDEX idx_discussions_counterpart (counterpart_role, counterpart_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS messages (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				discussion_id BIGINT UNSIGNED NOT NULL,
				content MEDIUMTEXT NOT NULL,
				sender_type ENUM('admin', 'operator', 'technician') NOT NULL,
				sender_id BIGINT UNSIGNED NOT NULL,
				status ENUM('sent', 'delivered', 'read') NOT NULL DEFAULT 'sent',
				created_at DATETIME(6) NOT NULL,
				updated_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_messages_discussion (discussion_id, created_at),
				INDEX idx_messages_sender (sender_type, sender_id),
				CONSTRAINT chk_messages_content CHECK (content <> ''),
				CONSTRAINT fk_messages_discussion FOREIGN KEY (discussion_id) REFERENCES discussions(id)
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
