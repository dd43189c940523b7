package scylla

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatements(t *testing.T) {
	const table = "parcel.packages"

	stmt, names := getStmt(table)
	assert.True(t, strings.HasPrefix(stmt, "SELECT "), stmt)
	assert.Contains(t, stmt, "FROM parcel.packages")
	assert.Contains(t, stmt, "LIMIT 1")
	assert.Equal(t, []string{"token"}, names)

	stmt, names = setStmt(table, 2*time.Hour)
	assert.True(t, strings.HasPrefix(stmt, "INSERT INTO parcel.packages"), stmt)
	assert.Contains(t, stmt, "USING TTL 7200")
	assert.Equal(t, []string{"token", "path"}, names)

	stmt, names = deleteStmt(table)
	assert.True(t, strings.HasPrefix(stmt, "DELETE FROM parcel.packages"), stmt)
	assert.Equal(t, []string{"token"}, names)
}

func TestSchema(t *testing.T) {
	stmts := schema("custom")
	if assert.Len(t, stmts, 2) {
		assert.Contains(t, stmts[0], "CREATE KEYSPACE IF NOT EXISTS custom")
		assert.Contains(t, stmts[1], "custom.packages")
		assert.Contains(t, stmts[1], "token text PRIMARY KEY")
	}
}
