package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/ckptfs/internal/logger"
	"github.com/marmos91/ckptfs/pkg/backup"
)

// ============================================================================
// Key Namespace
// ============================================================================
//
// Data Type      Prefix  Key Format              Value Type
// ===========================================================
// View entries   "v:"    v:<target>:<path>       viewRecord (JSON)
// Schema         "cfg:"  cfg:schema              uint (JSON)
//
// Paths always start with "/", so the ":" after the target name cannot be
// confused with a colon inside the path.

const (
	prefixView   = "v:"
	keySchema    = "cfg:schema"
	schemaLatest = 1
)

func keyView(target, path string) []byte {
	return []byte(prefixView + target + ":" + path)
}

func keyViewPrefix(target string) []byte {
	return []byte(prefixView + target + ":/")
}

// viewRecord is the stored form of backup.ViewEntry.
type viewRecord struct {
	Inode      uint64    `json:"inode"`
	Mtime      time.Time `json:"mtime"`
	Generation uint64    `json:"generation"`
	UfsInode   uint64    `json:"ufs_inode"`
}

func encodeEntry(e backup.ViewEntry) ([]byte, error) {
	return json.Marshal(viewRecord{Inode: e.Inode, Mtime: e.Mtime, Generation: e.Generation, UfsInode: e.UfsInode})
}

func decodeEntry(b []byte) (backup.ViewEntry, error) {
	var r viewRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return backup.ViewEntry{}, err
	}
	return backup.ViewEntry{Inode: r.Inode, Mtime: r.Mtime, Generation: r.Generation, UfsInode: r.UfsInode}, nil
}

// ============================================================================
// Store
// ============================================================================

// Badger is a BadgerDB-backed Store.
type Badger struct {
	db *badgerdb.DB
}

var _ Store = (*Badger)(nil)

// openBadger opens or creates the badger ledger described by opts.
func openBadger(opts Options) (*Badger, error) {
	var bopts badgerdb.Options
	if opts.InMemory {
		bopts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, errors.New("ledger path is required")
		}
		bopts = badgerdb.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites).WithLogger(badgerLogger{})

	db, err := badgerdb.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	l := &Badger{db: db}
	if err := l.checkSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("view ledger opened", "backend", BackendBadger, "path", opts.Path, "in_memory", opts.InMemory)
	return l, nil
}

// Backend implements Store.
func (l *Badger) Backend() string { return BackendBadger }

// checkSchema stamps a new database and refuses one written by a newer
// release.
func (l *Badger) checkSchema() error {
	return l.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchema))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			data, _ := json.Marshal(schemaLatest)
			return txn.Set([]byte(keySchema), data)
		}
		if err != nil {
			return fmt.Errorf("failed to read ledger schema: %w", err)
		}
		return item.Value(func(val []byte) error {
			var v int
			if err := json.Unmarshal(val, &v); err != nil {
				return fmt.Errorf("corrupt ledger schema: %w", err)
			}
			if v > schemaLatest {
				return fmt.Errorf("ledger schema %d is newer than supported %d", v, schemaLatest)
			}
			return nil
		})
	})
}

// Load implements Store.
func (l *Badger) Load(target string) (map[string]backup.ViewEntry, error) {
	out := make(map[string]backup.ViewEntry)
	prefix := keyViewPrefix(target)
	strip := len(prefixView) + len(target) + 1

	err := l.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			path := string(item.Key()[strip:])
			err := item.Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return fmt.Errorf("decode %s: %w", path, err)
				}
				out[path] = e
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load view of %s: %w", target, err)
	}
	return out, nil
}

// Put implements Store.
func (l *Badger) Put(target, path string, e backup.ViewEntry) error {
	if err := checkPath(path); err != nil {
		return err
	}
	data, err := encodeEntry(e)
	if err != nil {
		return err
	}
	return l.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(keyView(target, path), data); err != nil {
			return fmt.Errorf("failed to store view entry: %w", err)
		}
		return nil
	})
}

// Delete implements Store. A missing entry is not an error.
func (l *Badger) Delete(target, path string) error {
	return l.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(keyView(target, path))
	})
}

// DropTarget implements Store.
func (l *Badger) DropTarget(target string) (int, error) {
	var keys [][]byte
	err := l.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = keyViewPrefix(target)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := l.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to drop view of %s: %w", target, err)
	}
	return len(keys), nil
}

// Healthcheck implements Store.
func (l *Badger) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.db.IsClosed() {
		return errors.New("ledger is closed")
	}
	return l.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchema))
		return err
	})
}

// Size returns the LSM tree and value log sizes in bytes.
func (l *Badger) Size() (lsm, vlog int64) {
	return l.db.Size()
}

// Close flushes and closes the database.
func (l *Badger) Close() error {
	return l.db.Close()
}

// badgerLogger routes badger's own messages through the process logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Error("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warn("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.Debug("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Debugf(format string, args ...any) {
	logger.Debug("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}
