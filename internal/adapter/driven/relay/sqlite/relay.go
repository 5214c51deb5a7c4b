// Package sqlite is a durable Relay Channel on SQLite.
//
// Subscribers are woken at once by writes made through the same Relay and
// poll every PollInterval for writes made by other processes sharing the
// database file, so a remote write is seen at most one interval late.
// Children carry an explicit sequence number and are delivered in that order.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/relay"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

const DefaultPollInterval = 250 * time.Millisecond

var errClosed = errors.New("relay closed")

type Relay struct {
	db           *sql.DB
	pollInterval time.Duration

	mu      sync.Mutex
	wake    chan struct{}
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

var _ port.RelayChannel = (*Relay)(nil)

// Open opens or creates the database at path.
func Open(path string, pollInterval time.Duration) (*Relay, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "create database dir")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// One connection keeps read-merge-write updates serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "configure database")
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			fields     TEXT NOT NULL,
			version    INTEGER NOT NULL DEFAULT 1,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection, id)
		);
	`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create documents table")
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS children (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			doc_id     TEXT NOT NULL,
			sub        TEXT NOT NULL,
			id         TEXT NOT NULL,
			fields     TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS children_parent ON children (collection, doc_id, sub, seq);
	`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create children table")
	}

	return &Relay{
		db:           db,
		pollInterval: pollInterval,
		wake:         make(chan struct{}),
		closing:      make(chan struct{}),
	}, nil
}

func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.closing)
	r.mu.Unlock()

	r.wg.Wait()
	return r.db.Close()
}

func (r *Relay) checkOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errClosed
	}
	return nil
}

// changed wakes every subscriber.
func (r *Relay) changed() {
	r.mu.Lock()
	close(r.wake)
	r.wake = make(chan struct{})
	r.mu.Unlock()
}

func (r *Relay) wakeChan() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wake
}

func encode(f domain.Fields) (string, error) {
	if f == nil {
		f = domain.Fields{}
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return "", errors.Wrap(err, "encode fields")
	}
	return string(raw), nil
}

func decode(raw string) (domain.Fields, error) {
	var f domain.Fields
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, errors.Wrap(err, "decode fields")
	}
	if f == nil {
		f = domain.Fields{}
	}
	return f, nil
}

func (r *Relay) CreateDocument(ctx context.Context, collection string) (string, error) {
	if err := r.checkOpen(); err != nil {
		return "", err
	}
	id := domain.NewDocumentID()
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, fields) VALUES (?, ?, '{}')`,
		collection, id); err != nil {
		return "", errors.Wrap(err, "insert document")
	}
	r.changed()
	return id, nil
}

func (r *Relay) GetDocument(ctx context.Context, collection, id string) (domain.Fields, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	f, _, found, err := r.load(ctx, collection, id)
	if err != nil || !found {
		return nil, err
	}
	return f, nil
}

func (r *Relay) load(ctx context.Context, collection, id string) (domain.Fields, int64, bool, error) {
	var raw string
	var version int64
	err := r.db.QueryRowContext(ctx,
		`SELECT fields, version FROM documents WHERE collection = ? AND id = ?`,
		collection, id).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, errors.Wrap(err, "select document")
	}
	f, err := decode(raw)
	if err != nil {
		return nil, 0, false, err
	}
	return f, version, true, nil
}

func (r *Relay) SetDocument(ctx context.Context, collection, id string, fields domain.Fields, merge bool) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	next := fields
	if merge {
		var raw string
		err := tx.QueryRowContext(ctx,
			`SELECT fields FROM documents WHERE collection = ? AND id = ?`,
			collection, id).Scan(&raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return errors.Wrap(err, "select document")
		default:
			current, err := decode(raw)
			if err != nil {
				return err
			}
			next = current.Merge(fields)
		}
	}

	encoded, err := encode(next)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, fields) VALUES (?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			fields = excluded.fields,
			version = documents.version + 1,
			updated_at = CURRENT_TIMESTAMP`,
		collection, id, encoded); err != nil {
		return errors.Wrap(err, "upsert document")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	r.changed()
	return nil
}

func (r *Relay) AddToSubcollection(ctx context.Context, collection, id, sub string, record domain.Fields) (string, error) {
	if err := r.checkOpen(); err != nil {
		return "", err
	}
	encoded, err := encode(record)
	if err != nil {
		return "", err
	}
	childID := domain.NewDocumentID()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO children (collection, doc_id, sub, id, fields)
		SELECT ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM documents WHERE collection = ? AND id = ?)`,
		collection, id, sub, childID, encoded, collection, id)
	if err != nil {
		return "", errors.Wrap(err, "insert child")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return "", errors.Wrapf(domain.ErrDocumentNotFound, "%s/%s", collection, id)
	}
	r.changed()
	return childID, nil
}

func (r *Relay) OnDocumentChange(ctx context.Context, collection, id string) (port.DocumentSubscription, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	f := relay.NewFeed[domain.Fields](ctx, nil)
	r.wg.Add(1)
	go r.watchDocument(ctx, f, collection, id)
	return f, nil
}

func (r *Relay) OnSubcollectionChange(ctx context.Context, collection, id, sub string) (port.CollectionSubscription, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	f := relay.NewFeed[domain.DocumentChange](ctx, nil)
	r.wg.Add(1)
	go r.watchChildren(ctx, f, collection, id, sub)
	return f, nil
}

// wait blocks until the next local write, the next poll tick, or shutdown.
// It returns false when the watcher should stop.
func (r *Relay) wait(wake <-chan struct{}, tick <-chan time.Time, done <-chan struct{}) bool {
	select {
	case <-wake:
		return true
	case <-tick:
		return true
	case <-done:
		return false
	case <-r.closing:
		return false
	}
}

func (r *Relay) watchDocument(ctx context.Context, f *relay.Feed[domain.Fields], collection, id string) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	var seen int64
	for {
		wake := r.wakeChan()
		fields, version, found, err := r.load(ctx, collection, id)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("collection", collection).Str("id", id).Msg("Document watch failed")
				f.CloseWithError(err)
			}
			return
		}
		if found && version != seen {
			seen = version
			f.Push(fields)
		}
		if !r.wait(wake, ticker.C, f.Done()) {
			f.CloseWithError(r.closeReason())
			return
		}
	}
}

func (r *Relay) watchChildren(ctx context.Context, f *relay.Feed[domain.DocumentChange], collection, id, sub string) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	var cursor int64
	for {
		wake := r.wakeChan()
		changes, last, err := r.children(ctx, collection, id, sub, cursor)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("collection", collection).Str("id", id).Str("sub", sub).Msg("Subcollection watch failed")
				f.CloseWithError(err)
			}
			return
		}
		cursor = last
		for _, c := range changes {
			f.Push(c)
		}
		if !r.wait(wake, ticker.C, f.Done()) {
			f.CloseWithError(r.closeReason())
			return
		}
	}
}

func (r *Relay) closeReason() error {
	select {
	case <-r.closing:
		return errClosed
	default:
		return nil
	}
}

func (r *Relay) children(ctx context.Context, collection, id, sub string, after int64) ([]domain.DocumentChange, int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, id, fields FROM children
		WHERE collection = ? AND doc_id = ? AND sub = ? AND seq > ?
		ORDER BY seq`,
		collection, id, sub, after)
	if err != nil {
		return nil, after, errors.Wrap(err, "select children")
	}
	defer rows.Close()

	var out []domain.DocumentChange
	last := after
	for rows.Next() {
		var seq int64
		var childID, raw string
		if err := rows.Scan(&seq, &childID, &raw); err != nil {
			return nil, after, errors.Wrap(err, "scan child")
		}
		f, err := decode(raw)
		if err != nil {
			return nil, after, err
		}
		out = append(out, domain.DocumentChange{Type: domain.ChangeAdded, ID: childID, Fields: f})
		last = seq
	}
	if err := rows.Err(); err != nil {
		return nil, after, errors.Wrap(err, "select children")
	}
	return out, last, nil
}
