package fixgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	faker "github.com/go-faker/faker/v4"
	"github.com/lib/pq"

	"github.com/zoravur/livescore/pkg/prng"
)

type Sandbox struct {
	DB     *sql.DB
	DSN    string
	Schema string
	Seed   int64
	Close  func()
}

var sandboxes atomic.Int64

// NewSandbox creates a schema for t, points every pooled connection's
// search_path at it and runs the configured migrations. faker is seeded
// from Seed so generated fixtures can be reproduced from a failure log.
// The schema is dropped when t finishes.
func NewSandbox(t *testing.T) *Sandbox {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres sandbox skipped in -short mode")
	}
	if connString == "" {
		if bootErr != nil {
			t.Skipf("postgres unavailable: %v", bootErr)
		}
		t.Skip("fixgres not booted; call fixgres.Boot in TestMain")
	}

	admin, err := sql.Open("pgx", connString)
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := fmt.Sprintf("t_%x_%d", time.Now().UnixNano(), sandboxes.Add(1))
	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA `+pq.QuoteIdentifier(schema)); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	dsn := withSearchPath(connString, schema)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open sandbox: %v", err)
	}

	sbx := &Sandbox{
		DB:     db,
		DSN:    dsn,
		Schema: schema,
		Seed:   time.Now().UnixNano(),
	}
	sbx.Close = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.ExecContext(ctx, `DROP SCHEMA IF EXISTS `+pq.QuoteIdentifier(schema)+` CASCADE`)
		_ = db.Close()
		_ = admin.Close()
	}
	t.Cleanup(sbx.Close)

	if cfg.migrate != nil {
		if err := cfg.migrate(ctx, db); err != nil {
			t.Fatalf("migrate sandbox %s: %v", schema, err)
		}
	}

	faker.SetCryptoSource(prng.New(sbx.Seed))
	t.Logf("sandbox %s seed %d", schema, sbx.Seed)
	return sbx
}

func withSearchPath(base, schema string) string {
	u, _ := url.Parse(base)
	q := u.Query()
	q.Set("options", fmt.Sprintf("-csearch_path=%s,public", schema))
	u.RawQuery = q.Encode()
	return u.String()
}
