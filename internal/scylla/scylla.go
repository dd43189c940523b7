// Package scylla stores package records in Scylla or Cassandra. Rows are
// written USING TTL so the cluster expires them.
package scylla

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"github.com/uhthomas/parcel/pkg/parcel"
)

// DefaultKeyspace is used when New is given an empty keyspace.
const DefaultKeyspace = "parcel"

type record struct {
	Token string
	Path  string
}

type Store struct {
	session               *gocql.Session
	table                 string
	getQuery, deleteQuery QueryFunc

	mu       sync.Mutex
	setQuery map[time.Duration]QueryFunc
}

func schema(keyspace string) []string {
	return []string{
		fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`, keyspace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.packages (token text PRIMARY KEY, path text)`, keyspace),
	}
}

// New connects to the cluster at hosts and creates the keyspace and table if
// they don't exist.
func New(keyspace string, hosts ...string) (*Store, error) {
	if keyspace == "" {
		keyspace = DefaultKeyspace
	}
	c := gocql.NewCluster(hosts...)
	c.Timeout = 5 * time.Second
	s, err := c.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect scylla: %w", err)
	}
	for _, stmt := range schema(keyspace) {
		if err := s.Query(stmt).Exec(); err != nil {
			s.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	table := keyspace + ".packages"
	return &Store{
		session:     s,
		table:       table,
		getQuery:    NewGetQuery(s, table),
		deleteQuery: NewDeleteQuery(s, table),
		setQuery:    make(map[time.Duration]QueryFunc),
	}, nil
}

func (s *Store) set(ttl time.Duration) QueryFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.setQuery[ttl]
	if !ok {
		q = NewSetQuery(s.session, s.table, ttl)
		s.setQuery[ttl] = q
	}
	return q
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.set(ttl)(ctx).BindStruct(&record{Token: key, Path: value}).ExecRelease()
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var r record
	if err := s.getQuery(ctx).Bind(key).GetRelease(&r); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return "", parcel.ErrNotFound
		}
		return "", err
	}
	return r.Path, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.deleteQuery(ctx).Bind(key).ExecRelease()
}

func (s *Store) Close() error {
	s.session.Close()
	return nil
}
