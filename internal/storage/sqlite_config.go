package storage

import "time"

// SQLiteConfig configures connection pooling for the embedded database.
// SQLite serializes writes internally, so the pool is kept small.
type SQLiteConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLiteConfig returns default connection pool settings.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}
