//go:build integration

// Package pgtest поднимает PostgreSQL в контейнере для интеграционных тестов
// и накатывает на него миграции движка.
package pgtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"serotonyl.ru/invest-engine/internal/db/postgres"
)

const image = "postgres:16-alpine"

// New запускает контейнер, применяет миграции и возвращает пул.
// Контейнер и пул закрываются в t.Cleanup.
func New(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	var (
		container *tcpostgres.PostgresContainer
		err       error
	)
	// docker иногда не успевает отдать порт с первого раза
	for attempt := 1; attempt <= 3; attempt++ {
		container, err = tcpostgres.Run(ctx, image,
			tcpostgres.WithDatabase("invest"),
			tcpostgres.WithUsername("engine"),
			tcpostgres.WithPassword("engine"),
			tcpostgres.BasicWaitStrategies(),
			tcpostgres.WithSQLDriver("pgx"),
		)
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
	}
	require.NoError(t, err, "не удалось запустить PostgreSQL")
	testcontainers.CleanupContainer(t, container)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.RunMigrations(ctx, dsn))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}
