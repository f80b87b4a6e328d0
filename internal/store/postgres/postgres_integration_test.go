//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mycelian/cockpit/internal/store"
	"github.com/mycelian/cockpit/internal/store/storetest"
)

func TestPostgresStore_Container(t *testing.T) {
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("cockpit"),
		postgrescontainer.WithUsername("cockpit"),
		postgrescontainer.WithPassword("cockpit"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	storetest.Run(t, func(t *testing.T) store.Store {
		db, err := Open(ctx, dsn)
		require.NoError(t, err)
		s := NewWithDB(db)
		require.NoError(t, s.Migrate(ctx))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
