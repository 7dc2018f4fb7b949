package storage

import (
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	. "realty-chat/pkg/chat"
)

// Connect opens the sqlite database at path (":memory:" works) and migrates
// the audit schema.
func Connect(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}

	// sqlite allows a single writer and audit rows arrive from every
	// connection's goroutine.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "sqlite handle")
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&AuditLog{}); err != nil {
		return nil, errors.Wrap(err, "migrate audit schema")
	}

	return db, nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
