package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPostgresConfigDefaults(t *testing.T) {
	cfg := PostgresConfig{DSN: "postgres://localhost/semantix"}.withDefaults()
	assert.Equal(t, 16, cfg.MaxOpenConns)
	assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)

	cfg = PostgresConfig{MaxOpenConns: 4, ConnMaxLifetime: time.Minute}.withDefaults()
	assert.Equal(t, 4, cfg.MaxOpenConns)
	assert.Equal(t, time.Minute, cfg.ConnMaxLifetime)
}
