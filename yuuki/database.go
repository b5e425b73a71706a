package yuuki

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CreateDB opens the sqlite database and migrates the bot's tables.
func CreateDB(
	ctx context.Context,
	path string,
	gormLogger logger.Interface,
) (*gorm.DB, error) {
	db, err := gorm.Open(
		sqlite.Open(path),
		&gorm.Config{Logger: gormLogger},
	)
	if err != nil {
		return nil, fmt.Errorf("error opening database %q: %w", path, err)
	}

	// sqlite: single writer
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(
		&Task{},
		&TodoItem{},
		&ChatExchange{},
	); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}
	return db, nil
}
