// Package testhelpers starts the containers used by the integration suites.
package testhelpers

import (
	"context"
	"time"

	"activation-relay/internal/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type PostgresContainer struct {
	*postgres.PostgresContainer
	ConnectionString string
}

func CreatePostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("activation-test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, err
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, err
	}

	return &PostgresContainer{
		PostgresContainer: pgContainer,
		ConnectionString:  connStr,
	}, nil
}

// MigratedPool starts a container, applies the migrations and opens a pool on it.
func MigratedPool(ctx context.Context) (*PostgresContainer, *pgxpool.Pool, error) {
	pgContainer, err := CreatePostgresContainer(ctx)
	if err != nil {
		return nil, nil, err
	}

	if err := db.RunMigrations(pgContainer.ConnectionString); err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, nil, err
	}

	pool, err := db.GetPool(ctx, pgContainer.ConnectionString, 10)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, nil, err
	}
	return pgContainer, pool, nil
}

// Truncate empties every table touched by the integration suites.
func Truncate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `TRUNCATE activation_jobs, payment_callbacks, transactions, activation_payments, user_profiles`)
	return err
}
