// Package ledger persists the per-target upload views of the backup
// pipeline, so a restarted process still knows which versions every target
// already holds.
//
// Three backends exist. Badger is an embedded key-value store and the
// default. SQLite is a single embedded file. Postgres lets several hosts
// that replicate to the same targets share one ledger.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/ckptfs/pkg/backup"
)

// Backend names.
const (
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Store is a persistent backup.ViewLedger. Implementations are safe for
// concurrent use.
type Store interface {
	backup.ViewLedger

	// DropTarget removes every entry of target and returns how many there
	// were.
	DropTarget(target string) (int, error)

	// Healthcheck verifies the store answers reads.
	Healthcheck(ctx context.Context) error

	// Backend returns the backend name.
	Backend() string

	Close() error
}

// Options configures Open.
type Options struct {
	// Backend selects the store. Empty selects badger.
	Backend string

	// Path is the badger directory or the sqlite file. Ignored when
	// InMemory is set and for postgres.
	Path string

	// InMemory keeps a badger or sqlite store in memory. Used by tests.
	InMemory bool

	// SyncWrites makes every write durable before it returns.
	SyncWrites bool

	// DSN is the postgres connection string.
	DSN string

	// MaxOpenConns caps the postgres connection pool.
	MaxOpenConns int
}

// Open opens or creates the store described by opts.
func Open(opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	// Assigning through the concrete types keeps a failed open a nil
	// interface rather than a typed nil.
	switch opts.Backend {
	case "", BackendBadger:
		var b *Badger
		if b, err = openBadger(opts); err == nil {
			s = b
		}
	case BackendSQLite, BackendPostgres:
		var q *SQL
		if opts.Backend == BackendSQLite {
			q, err = openSQLite(opts)
		} else {
			q, err = openPostgres(opts)
		}
		if err == nil {
			s = q
		}
	default:
		err = fmt.Errorf("unsupported ledger backend: %s", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// checkPath rejects relative paths. Badger keys rely on the leading slash
// to separate the target name from the path.
func checkPath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("ledger path %q is not absolute", path)
	}
	return nil
}
