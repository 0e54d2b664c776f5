package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	// Register the pure-Go SQLite driver (no CGO required).
	_ "modernc.org/sqlite"

	"github.com/giantswarm/fnhost/internal/fileutil"
	"github.com/giantswarm/fnhost/internal/lru"
	"github.com/giantswarm/fnhost/internal/procproto"
	"github.com/giantswarm/fnhost/internal/sentinel"
)

// ErrClosed is returned by operations on a closed Store.
const ErrClosed = sentinel.Error("kv store closed")

// DefaultCacheSize is the number of keys kept in the read cache.
const DefaultCacheSize = 1024

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        BLOB PRIMARY KEY,
	value      BLOB NOT NULL,
	task_node  INTEGER NOT NULL,
	task_id    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Config configures a Store.
type Config struct {
	// Path is the database file. It is created if missing.
	Path string
	// CacheSize defaults to DefaultCacheSize.
	CacheSize int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// cached is a read-cache entry. Misses are cached too.
type cached struct {
	value []byte
	found bool
}

// Store is a SQLite-backed key-value store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	cache  *lru.Cache[string, cached]
	log    *slog.Logger
	closed atomic.Bool
}

// Open opens or creates the database at cfg.Path.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("open kv store: %w", fileutil.ErrEmptyPath)
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	if err := fileutil.EnsureDirForFile(cfg.Path); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_pragma=synchronous(NORMAL)",
		cfg.Path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}

	// Writers serialize on a single connection so the read cache is updated
	// in commit order.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv schema: %w", err)
	}

	log.Debug("kv store opened", "path", cfg.Path)
	return &Store{
		db:    db,
		cache: lru.New(lru.Config[string, cached]{Capacity: cfg.CacheSize}),
		log:   log,
	}, nil
}

// Close closes the database. Later calls return nil.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cache.Purge()
	s.log.Debug("kv store closed")
	return s.db.Close()
}

// KvRequests applies every request in its own transaction and returns one
// response per request. The operations of a request are applied in order.
func (s *Store) KvRequests(ctx context.Context, src procproto.FnTaskID, reqs []*procproto.KvRequest) ([]*procproto.KvResponse, error) {
	out := make([]*procproto.KvResponse, 0, len(reqs))
	for _, req := range reqs {
		resp, err := s.apply(ctx, src, req.Ops)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	resp, err := s.apply(ctx, procproto.FnTaskID{}, []procproto.KvOp{{Kind: procproto.KvGet, Key: key}})
	if err != nil {
		return nil, false, err
	}
	r := resp.Results[0]
	return r.Value, r.Found, nil
}

// Set stores value under key on behalf of src.
func (s *Store) Set(ctx context.Context, src procproto.FnTaskID, key, value []byte) error {
	_, err := s.apply(ctx, src, []procproto.KvOp{{Kind: procproto.KvSet, Key: key, Value: value}})
	return err
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(ctx context.Context, key []byte) (bool, error) {
	resp, err := s.apply(ctx, procproto.FnTaskID{}, []procproto.KvOp{{Kind: procproto.KvDelete, Key: key}})
	if err != nil {
		return false, err
	}
	return resp.Results[0].Found, nil
}

func (s *Store) apply(ctx context.Context, src procproto.FnTaskID, ops []procproto.KvOp) (*procproto.KvResponse, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin kv transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	// writes are applied to the cache only after commit.
	writes := make(map[string]cached)
	resp := &procproto.KvResponse{Results: make([]procproto.KvOpResult, 0, len(ops))}

	for _, op := range ops {
		k := string(op.Key)
		res := procproto.KvOpResult{Kind: op.Kind, Key: op.Key}

		switch op.Kind {
		case procproto.KvGet:
			c, err := s.lookup(ctx, tx, writes, op.Key)
			if err != nil {
				return nil, err
			}
			res.Value, res.Found = c.value, c.found

		case procproto.KvSet:
			c, err := s.lookup(ctx, tx, writes, op.Key)
			if err != nil {
				return nil, err
			}
			res.Found = c.found
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO kv (key, value, task_node, task_id, updated_at) VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, task_node = excluded.task_node,
				task_id = excluded.task_id, updated_at = excluded.updated_at`,
				op.Key, nonNil(op.Value), src.CallNodeID, src.TaskID, time.Now().UnixNano(),
			); err != nil {
				return nil, fmt.Errorf("kv set: %w", err)
			}
			writes[k] = cached{value: nonNil(op.Value), found: true}

		case procproto.KvDelete:
			r, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, op.Key)
			if err != nil {
				return nil, fmt.Errorf("kv delete: %w", err)
			}
			n, err := r.RowsAffected()
			if err != nil {
				return nil, fmt.Errorf("kv delete: %w", err)
			}
			res.Found = n > 0
			writes[k] = cached{}

		default:
			return nil, fmt.Errorf("%w: kv op kind %s", procproto.ErrDecode, op.Kind)
		}

		resp.Results = append(resp.Results, res)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit kv transaction: %w", err)
	}
	for k, c := range writes {
		s.cache.Add(k, c)
	}
	return resp, nil
}

// lookup returns the value of key as seen by the running transaction.
func (s *Store) lookup(ctx context.Context, tx *sql.Tx, writes map[string]cached, key []byte) (cached, error) {
	if c, ok := writes[string(key)]; ok {
		return c, nil
	}
	return s.read(ctx, tx, key)
}

// read looks key up in the cache, then in the database.
func (s *Store) read(ctx context.Context, tx *sql.Tx, key []byte) (cached, error) {
	if c, ok := s.cache.Get(string(key)); ok {
		return c, nil
	}

	var value []byte
	err := tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		c := cached{}
		s.cache.Add(string(key), c)
		return c, nil
	case err != nil:
		return cached{}, fmt.Errorf("kv get: %w", err)
	}

	c := cached{value: value, found: true}
	s.cache.Add(string(key), c)
	return c, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
