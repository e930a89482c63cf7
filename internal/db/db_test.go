package db

import (
	"testing"

	"github.com/jmehdipour/aigen-gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMySQLDSN(t *testing.T) {
	dsn, err := NormalizeMySQLDSN("aigen:pw@tcp(db:3306)/aigen?multiStatements=true")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "multiStatements=true")
	assert.NotContains(t, dsn, "loc=Local")

	_, err = NormalizeMySQLDSN("")
	assert.Error(t, err)

	_, err = NormalizeMySQLDSN("not a dsn at all")
	assert.Error(t, err)
}

func TestNewMySQLConnection_EmptyDSN(t *testing.T) {
	_, err := NewMySQLConnection(config.DatabaseConfig{})
	assert.Error(t, err)
}
