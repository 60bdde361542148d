package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/ckptfs/internal/logger"
	"github.com/marmos91/ckptfs/pkg/backup"
)

// viewEntryRow is the stored form of backup.ViewEntry in SQL backends.
// Mtime is kept in nanoseconds since postgres timestamps stop at
// microseconds and the skip check compares mtimes exactly.
type viewEntryRow struct {
	Target     string `gorm:"column:target;primaryKey"`
	Path       string `gorm:"column:path;primaryKey"`
	Inode      uint64 `gorm:"column:inode;not null"`
	MtimeNs    int64  `gorm:"column:mtime_ns;not null"`
	Generation uint64 `gorm:"column:generation;not null"`
	UfsInode   uint64 `gorm:"column:ufs_inode;not null"`
}

// TableName implements gorm's tabler.
func (viewEntryRow) TableName() string { return "view_entries" }

func toRow(target, path string, e backup.ViewEntry) viewEntryRow {
	var ns int64
	if !e.Mtime.IsZero() {
		ns = e.Mtime.UnixNano()
	}
	return viewEntryRow{
		Target:     target,
		Path:       path,
		Inode:      e.Inode,
		MtimeNs:    ns,
		Generation: e.Generation,
		UfsInode:   e.UfsInode,
	}
}

func (r viewEntryRow) entry() backup.ViewEntry {
	var mtime time.Time
	if r.MtimeNs != 0 {
		mtime = time.Unix(0, r.MtimeNs).UTC()
	}
	return backup.ViewEntry{Inode: r.Inode, Mtime: mtime, Generation: r.Generation, UfsInode: r.UfsInode}
}

// SQL is a Store over SQLite or PostgreSQL, sharing one code path through
// GORM.
type SQL struct {
	db      *gorm.DB
	backend string
}

var _ Store = (*SQL)(nil)

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
}

// openSQLite opens the sqlite file at opts.Path, or a private in-memory
// database, and creates the schema.
func openSQLite(opts Options) (*SQL, error) {
	var dsn string
	if opts.InMemory {
		dsn = ":memory:"
	} else {
		if opts.Path == "" {
			return nil, errors.New("ledger path is required")
		}
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
		sync := "NORMAL"
		if opts.SyncWrites {
			sync = "FULL"
		}
		// WAL lets the status API read while an upload commits.
		dsn = opts.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(" + sync + ")"
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	// Every connection to ":memory:" is a separate database, and sqlite
	// serializes writers anyway.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&viewEntryRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	logger.Info("view ledger opened", "backend", BackendSQLite, "path", opts.Path, "in_memory", opts.InMemory)
	return &SQL{db: db, backend: BackendSQLite}, nil
}

// openPostgres applies the embedded migrations and connects to opts.DSN.
func openPostgres(opts Options) (*SQL, error) {
	if opts.DSN == "" {
		return nil, errors.New("ledger dsn is required for postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()
	if err := runMigrations(ctx, opts.DSN); err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.Open(opts.DSN), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		sqlDB.SetMaxIdleConns(opts.MaxOpenConns)
	}
	logger.Info("view ledger opened", "backend", BackendPostgres)
	return &SQL{db: db, backend: BackendPostgres}, nil
}

// Backend implements Store.
func (l *SQL) Backend() string { return l.backend }

// Load implements Store.
func (l *SQL) Load(target string) (map[string]backup.ViewEntry, error) {
	var rows []viewEntryRow
	if err := l.db.Where("target = ?", target).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load view of %s: %w", target, err)
	}
	out := make(map[string]backup.ViewEntry, len(rows))
	for _, r := range rows {
		out[r.Path] = r.entry()
	}
	return out, nil
}

// Put implements Store.
func (l *SQL) Put(target, path string, e backup.ViewEntry) error {
	if err := checkPath(path); err != nil {
		return err
	}
	row := toRow(target, path, e)
	err := l.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "target"}, {Name: "path"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to store view entry: %w", err)
	}
	return nil
}

// Delete implements Store. A missing entry is not an error.
func (l *SQL) Delete(target, path string) error {
	return l.db.Where("target = ? AND path = ?", target, path).Delete(&viewEntryRow{}).Error
}

// DropTarget implements Store.
func (l *SQL) DropTarget(target string) (int, error) {
	res := l.db.Where("target = ?", target).Delete(&viewEntryRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to drop view of %s: %w", target, res.Error)
	}
	return int(res.RowsAffected), nil
}

// Healthcheck implements Store.
func (l *SQL) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close implements Store.
func (l *SQL) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
