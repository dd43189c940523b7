package scylla

import (
	"context"
	"time"

	"github.com/gocql/gocql"
	"github.com/scylladb/gocqlx"
	scyllaqb "github.com/scylladb/gocqlx/qb"
)

type QueryFunc func(ctx context.Context) *gocqlx.Queryx

func query(s *gocql.Session, stmt string, names []string) QueryFunc {
	return func(ctx context.Context) *gocqlx.Queryx {
		return gocqlx.Query(s.Query(stmt).WithContext(ctx), names)
	}
}

func getStmt(table string) (string, []string) {
	return scyllaqb.
		Select(table).
		Columns("token", "path").
		Where(scyllaqb.Eq("token")).
		Limit(1).
		ToCql()
}

func setStmt(table string, ttl time.Duration) (string, []string) {
	return scyllaqb.
		Insert(table).
		Columns("token", "path").
		TTL(ttl).
		ToCql()
}

func deleteStmt(table string) (string, []string) {
	return scyllaqb.
		Delete(table).
		Where(scyllaqb.Eq("token")).
		ToCql()
}

func NewGetQuery(s *gocql.Session, table string) QueryFunc {
	stmt, names := getStmt(table)
	return query(s, stmt, names)
}

func NewSetQuery(s *gocql.Session, table string, ttl time.Duration) QueryFunc {
	stmt, names := setStmt(table, ttl)
	return query(s, stmt, names)
}

func NewDeleteQuery(s *gocql.Session, table string) QueryFunc {
	stmt, names := deleteStmt(table)
	return query(s, stmt, names)
}
