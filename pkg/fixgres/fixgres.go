// Package fixgres boots one throwaway PostgreSQL container per test binary
// and hands each test its own migrated schema.
package fixgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// ErrDockerUnavailable is the boot error when no container runtime can
// be reached.
var ErrDockerUnavailable = errors.New("fixgres: docker unavailable")

// MigrateFunc brings a fresh sandbox schema up to date.
type MigrateFunc func(ctx context.Context, db *sql.DB) error

type config struct {
	image    string
	dbName   string
	user     string
	password string
	migrate  MigrateFunc
	// logical replication needs wal_level=logical on the server
	logical bool
}

type Option func(*config)

func WithImage(i string) Option    { return func(c *config) { c.image = i } }
func WithDBName(n string) Option   { return func(c *config) { c.dbName = n } }
func WithUser(u string) Option     { return func(c *config) { c.user = u } }
func WithPassword(p string) Option { return func(c *config) { c.password = p } }

// WithMigrations runs fn against every new sandbox.
func WithMigrations(fn MigrateFunc) Option {
	return func(c *config) { c.migrate = fn }
}

// WithLogicalReplication starts the server with wal_level=logical.
func WithLogicalReplication() Option {
	return func(c *config) { c.logical = true }
}

var (
	once       sync.Once
	bootErr    error
	mu         sync.Mutex
	pg         *postgres.PostgresContainer
	cfg        = &config{}
	connString string
)

// Boot starts the container. Call it from TestMain; later calls return
// the first result. A failure makes every NewSandbox skip its test.
func Boot(ctx context.Context, opts ...Option) error {
	once.Do(func() {
		for _, o := range opts {
			o(cfg)
		}
		bootErr = guard(func() error { return boot(ctx, cfg) })
	})
	return bootErr
}

// guard turns a panic from fn into an error. testcontainers panics when
// it cannot locate a Docker host.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrDockerUnavailable, r)
		}
	}()
	return fn()
}

func boot(ctx context.Context, c *config) error {
	if c.image == "" {
		c.image = "docker.io/postgres:16-alpine"
	}
	if c.dbName == "" {
		c.dbName = "app"
	}
	if c.user == "" {
		c.user = "postgres"
	}
	if c.password == "" {
		c.password = "pass"
	}

	opts := []testcontainers.ContainerCustomizer{
		postgres.WithDatabase(c.dbName),
		postgres.WithUsername(c.user),
		postgres.WithPassword(c.password),
		postgres.BasicWaitStrategies(),
	}
	if c.logical {
		opts = append(opts, testcontainers.WithCmd("postgres", "-c", "wal_level=logical", "-c", "max_replication_slots=8", "-c", "max_wal_senders=8"))
	}

	container, err := postgres.Run(ctx, c.image, opts...)
	if err != nil {
		return fmt.Errorf("start postgres container: %w", err)
	}
	mu.Lock()
	pg = container
	mu.Unlock()

	host, err := container.Host(ctx)
	if err != nil {
		return err
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return err
	}
	connString = fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.user, c.password, host, port.Port(), c.dbName,
	)
	return nil
}

// DSN is the admin connection string of the booted server.
func DSN() string { return connString }

func ShutdownNow() error {
	mu.Lock()
	defer mu.Unlock()
	if pg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return pg.Terminate(ctx)
}
