package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"i94etl/internal/storage"
)

func TestIdentifier(t *testing.T) {
	assert.Equal(t, pgx.Identifier{"dim_country"}, identifier("", "dim_country"))
	assert.Equal(t, pgx.Identifier{"star", "dim_country"}, identifier(" star ", "dim_country"))
	assert.Equal(t, `"star"."dim_country"`, identifier("star", "dim_country").Sanitize())
}

func TestDescribe(t *testing.T) {
	plain := errors.New("boom")
	assert.Same(t, plain, describe(plain))

	pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key", Detail: "Key (country_id)=(101) already exists."}
	err := describe(fmt.Errorf("postgres: copy: %w", pgErr))
	assert.ErrorContains(t, err, "detail: Key (country_id)=(101) already exists.")

	var target *pgconn.PgError
	assert.True(t, errors.As(err, &target))
}

func TestBatchSizeDefault(t *testing.T) {
	assert.Equal(t, 5000, batchSize(storage.Config{}))
	assert.Equal(t, 10, batchSize(storage.Config{BatchSize: 10}))
}
