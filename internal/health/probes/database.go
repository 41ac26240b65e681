package probes

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/miradorstack/mirador-autoops/internal/models"
)

// Postgres opens a fresh connection per probe.
type Postgres struct {
	dsn string
}

// NewPostgres creates a postgres probe for a pgx connection string.
func NewPostgres(dsn string) *Postgres {
	return &Postgres{dsn: dsn}
}

// Probe connects and pings.
func (p *Postgres) Probe(ctx context.Context) (models.ProbeResult, error) {
	started, err := timed(ctx, func(ctx context.Context) error {
		conn, err := pgx.Connect(ctx, p.dsn)
		if err != nil {
			return err
		}
		defer conn.Close(context.Background())
		return conn.Ping(ctx)
	})
	return reachability(started, err, "postgres"), nil
}

// MySQL pings through a database/sql pool using the go-sql-driver connector.
type MySQL struct {
	db *sql.DB
}

// NewMySQL parses dsn and prepares a small pool. No connection is made until Probe.
func NewMySQL(dsn string) (*MySQL, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &MySQL{db: db}, nil
}

// Probe pings the server.
func (p *MySQL) Probe(ctx context.Context) (models.ProbeResult, error) {
	started, err := timed(ctx, p.db.PingContext)
	return reachability(started, err, "mysql"), nil
}

// Close releases the pool.
func (p *MySQL) Close() error { return p.db.Close() }

// Mongo pings the primary of a replica set or standalone server.
type Mongo struct {
	client *mongo.Client
}

// NewMongo creates a client for uri. The driver connects lazily.
func NewMongo(uri string) (*Mongo, error) {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo client: %w", err)
	}
	return &Mongo{client: client}, nil
}

// Probe pings the primary.
func (p *Mongo) Probe(ctx context.Context) (models.ProbeResult, error) {
	started, err := timed(ctx, func(ctx context.Context) error {
		return p.client.Ping(ctx, readpref.Primary())
	})
	return reachability(started, err, "mongodb"), nil
}

// Close disconnects the client.
func (p *Mongo) Close() error { return p.client.Disconnect(context.Background()) }

// Redis pings a redis server given a redis:// URL or a bare host:port.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a redis probe.
func NewRedis(target string) (*Redis, error) {
	opts, err := redis.ParseURL(target)
	if err != nil {
		opts = &redis.Options{Addr: target}
	}
	opts.MaxRetries = -1
	return &Redis{client: redis.NewClient(opts)}, nil
}

// Probe pings the server.
func (p *Redis) Probe(ctx context.Context) (models.ProbeResult, error) {
	started, err := timed(ctx, func(ctx context.Context) error {
		return p.client.Ping(ctx).Err()
	})
	return reachability(started, err, "redis"), nil
}

// Close releases the client.
func (p *Redis) Close() error { return p.client.Close() }
