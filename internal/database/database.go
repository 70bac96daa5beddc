package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open bootstraps the SQLite store the blocklist and event log live in.
// WAL mode keeps blocklist reads from stalling behind event inserts, and
// the busy timeout covers the sweep jobs writing concurrently. gorm's
// query logging is silenced: the firewall hits this store on every
// request and the request logger already covers the path.
func Open(dbPath string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	return db, nil
}
