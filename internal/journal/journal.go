// Package journal keeps an audit log of every command unit handled by any
// transport, with the reply that was sent. It is not channel state: the
// actuator bank is never restored from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/tagurobo/servod/internal/monitoring"
	"github.com/tagurobo/servod/internal/timeutil"
	"github.com/tagurobo/servod/internal/transport"
)

// DefaultRecentLimit is used by Recent when limit is not positive.
const DefaultRecentLimit = 100

// recordTimeout bounds a single Observe write.
const recordTimeout = 2 * time.Second

// Entry is one journalled command unit.
type Entry struct {
	ID        int64     `json:"id"`
	UnitID    string    `json:"unit_id"`
	Transport string    `json:"transport"`
	Source    string    `json:"source,omitempty"`
	Payload   string    `json:"payload"`
	Reply     string    `json:"reply,omitempty"`
	Replied   bool      `json:"replied"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal stores entries in SQLite.
type Journal struct {
	db    *sql.DB
	path  string
	clock timeutil.Clock
}

var _ transport.Observer = (*Journal)(nil)

// Open opens (creating if needed) the journal database at path and applies
// migrations. A nil clock means the wall clock.
func Open(path string, clock timeutil.Clock) (*Journal, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer; transports record concurrently
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, path: path, clock: clock}
	if err := j.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// DB exposes the underlying handle for debug tooling.
func (j *Journal) DB() *sql.DB { return j.db }

// Record stores e. UnitID and CreatedAt are filled in when empty; the stored
// entry is returned.
func (j *Journal) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.UnitID == "" {
		e.UnitID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.clock.Now()
	}
	res, err := j.db.ExecContext(ctx, `
		INSERT INTO command_units (unit_id, transport, source, payload, reply, replied, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UnitID, e.Transport, e.Source, e.Payload, e.Reply, e.Replied, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return e, fmt.Errorf("failed to record command unit: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return e, fmt.Errorf("failed to read command unit id: %w", err)
	}
	return e, nil
}

// Observe records an exchange. Failures are logged and otherwise ignored so
// the command loop is never affected.
func (j *Journal) Observe(x transport.Exchange) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	_, err := j.Record(ctx, Entry{
		Transport: x.Transport,
		Source:    x.Source,
		Payload:   x.Line,
		Reply:     x.Reply,
		Replied:   x.Replied,
		CreatedAt: x.At,
	})
	if err != nil {
		monitoring.Logf("journal: %v", err)
	}
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, unit_id, transport, source, payload, reply, replied, created_at
		FROM command_units
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.UnitID, &e.Transport, &e.Source, &e.Payload, &e.Reply, &e.Replied, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM command_units").Scan(&n)
	return n, err
}

// Prune deletes all but the newest keep entries and reports how many rows
// were removed.
func (j *Journal) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := j.db.ExecContext(ctx, `
		DELETE FROM command_units
		WHERE id NOT IN (SELECT id FROM command_units ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	return res.RowsAffected()
}

// PruneOlderThan deletes entries created before cutoff.
func (j *Journal) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, "DELETE FROM command_units WHERE created_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	return res.RowsAffected()
}

// RunRetention prunes the journal to keep entries every interval until ctx
// is done.
func (j *Journal) RunRetention(ctx context.Context, interval time.Duration, keep int) {
	if interval <= 0 || keep <= 0 {
		return
	}
	ticker := j.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			n, err := j.Prune(ctx, keep)
			if err != nil {
				log.Printf("journal retention: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("journal retention: pruned %d command units", n)
			}
		}
	}
}

// AttachAdminRoutes mounts a tailsql browser over the journal at
// /debug/tailsql/.
func (j *Journal) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+j.path, j.db, &tailsql.DBOptions{
		Label: "Command journal",
	})
	debug.Handle("tailsql/", "SQL live debugging of the command journal", tsql.NewMux())
	return nil
}
