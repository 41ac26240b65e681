package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// BadgerConfig controls the embedded database.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	GCInterval time.Duration
	Logger     *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerDB owns an open database and its value-log GC loop.
type BadgerDB struct {
	db     *badger.DB
	stop   chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

// OpenBadger opens the database described by cfg.
func OpenBadger(cfg BadgerConfig) (*BadgerDB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	b := &BadgerDB{db: db, logger: utils.LoggerOrDefault(cfg.Logger)}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		b.stop = make(chan struct{})
		b.done = make(chan struct{})
		go b.runGC(cfg.GCInterval)
	}
	return b, nil
}

func (b *BadgerDB) runGC(interval time.Duration) {
	defer close(b.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if err := b.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.logger.Warn("badger value log GC error", slog.Any("error", err))
			}
		}
	}
}

// Close stops GC and closes the database.
func (b *BadgerDB) Close() error {
	if b.stop != nil {
		close(b.stop)
		<-b.done
	}
	return b.db.Close()
}

// Repositories returns badger-backed repositories, one key prefix per entity type.
func (b *BadgerDB) Repositories() Repositories {
	return Repositories{
		Policies: NewBadger[models.SelfHealingPolicy](b.db, "policy"),
		Rules:    NewBadger[models.ResponseRule](b.db, "rule"),
		Threats:  NewBadger[models.Threat](b.db, "threat"),
		Plans:    NewBadger[models.ResponsePlan](b.db, "plan"),
		Tasks:    NewBadger[models.MaintenanceTask](b.db, "task"),
	}
}

// Badger is a Repository storing JSON values under "<kind>/<id>".
type Badger[T any] struct {
	db   *badger.DB
	kind string
}

// NewBadger creates a repository over db for kind.
func NewBadger[T any](db *badger.DB, kind string) *Badger[T] {
	return &Badger[T]{db: db, kind: kind}
}

func (r *Badger[T]) key(id string) []byte {
	return []byte(r.kind + "/" + id)
}

func (r *Badger[T]) Get(ctx context.Context, id string) (T, error) {
	var value T
	if err := ctx.Err(); err != nil {
		return value, err
	}
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return utils.NotFound("store.Get", r.kind, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			return json.Unmarshal(raw, &value)
		})
	})
	return value, err
}

func (r *Badger[T]) Put(ctx context.Context, id string, value T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", r.kind, id, err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.key(id), raw)
	})
}

func (r *Badger[T]) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(r.key(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return utils.NotFound("store.Delete", r.kind, id)
			}
			return err
		}
		return txn.Delete(r.key(id))
	})
}

// List returns every value in key order.
func (r *Badger[T]) List(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]T, 0)
	prefix := []byte(r.kind + "/")
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var value T
			if err := it.Item().Value(func(raw []byte) error {
				return json.Unmarshal(raw, &value)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, value)
		}
		return nil
	})
	return out, err
}
