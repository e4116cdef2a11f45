// Package database stores the record document in SQLite. Every write adds a new revision, so earlier versions of the
// document can be listed or pruned.
package database

import (
	"embed"
	"errors"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"moul.io/zapgorm2"

	"github.com/alanbriolat/channel-archiver"
	"github.com/alanbriolat/channel-archiver/internal/store"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type Revision struct {
	Revision  int64     `gorm:"column:revision;primaryKey;autoIncrement"`
	Body      []byte    `gorm:"column:body"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Revision) TableName() string {
	return "document_revision"
}

type Database struct {
	db   *gorm.DB
	path string
	log  *zap.SugaredLogger
}

var _ store.Backend = &Database{}

func NewDatabase(path string, logger *zap.Logger) (*Database, error) {
	gormLogger := zapgorm2.New(logger.Named("gorm"))
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, &channel_archiver.PersistenceError{Op: "open", Path: path, Err: err}
	}
	d := &Database{db: db, path: path, log: logger.Sugar().Named("database")}
	if err := d.Migrate(); err != nil {
		_ = d.Close()
		return nil, &channel_archiver.PersistenceError{Op: "migrate", Path: path, Err: err}
	}
	return d, nil
}

func (d *Database) Migrate() error {
	d.log.Debug("running database migrations")
	fs, err := iofs.New(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(sqlDB, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", fs, "sqlite3", driver)
	if err != nil {
		return err
	}
	err = m.Up()
	switch {
	case err == nil:
		d.log.Info("database migration complete")
	case errors.Is(err, migrate.ErrNoChange):
		d.log.Debug("no database migration required")
	default:
		return err
	}
	return nil
}

// Read returns the body of the latest revision.
func (d *Database) Read() ([]byte, error) {
	var revisions []Revision
	if err := d.db.Order("revision DESC").Limit(1).Find(&revisions).Error; err != nil {
		return nil, &channel_archiver.PersistenceError{Op: "read", Path: d.path, Err: err}
	}
	if len(revisions) == 0 {
		return nil, nil
	}
	return revisions[0].Body, nil
}

// Write stores data as a new revision.
func (d *Database) Write(data []byte) error {
	if err := d.db.Create(&Revision{Body: data}).Error; err != nil {
		return &channel_archiver.PersistenceError{Op: "write", Path: d.path, Err: err}
	}
	return nil
}

// Revisions lists up to limit of the most recent revisions, newest first, without their bodies.
func (d *Database) Revisions(limit int) ([]Revision, error) {
	var revisions []Revision
	err := d.db.Select("revision", "created_at").Order("revision DESC").Limit(limit).Find(&revisions).Error
	if err != nil {
		return nil, &channel_archiver.PersistenceError{Op: "list revisions", Path: d.path, Err: err}
	}
	return revisions, nil
}

// Prune deletes all but the newest keep revisions, returning how many were deleted.
func (d *Database) Prune(keep int) (int64, error) {
	var latest Revision
	if err := d.db.Order("revision DESC").Limit(1).Find(&latest).Error; err != nil {
		return 0, &channel_archiver.PersistenceError{Op: "prune", Path: d.path, Err: err}
	}
	cutoff := latest.Revision - int64(keep)
	if cutoff <= 0 {
		return 0, nil
	}
	result := d.db.Where("revision <= ?", cutoff).Delete(&Revision{})
	if result.Error != nil {
		return 0, &channel_archiver.PersistenceError{Op: "prune", Path: d.path, Err: result.Error}
	}
	d.log.Debugw("pruned revisions", "deleted", result.RowsAffected, "kept", keep)
	return result.RowsAffected, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
