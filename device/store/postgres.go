package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kabili207/smsinbound/core/sms"
)

// Compile-time assertion that PostgresStore implements SegmentStore.
var _ SegmentStore = (*PostgresStore)(nil)

// DefaultSchema is the schema holding the segment table.
const DefaultSchema = "smsinbound"

// tableName is the segment table within the schema.
const tableName = "raw"

const columns = "id, pdu, sequence, destination_port, date, reference_number, count, address"

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresStore is a SegmentStore backed by PostgreSQL. The pool is owned
// by the caller; the store never closes it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	table  string // quoted "schema"."raw"
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema used by the store (default "smsinbound").
// The name must be a plain PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("store: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("store: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("store: nil pool")
	}
	st.table = pgx.Identifier{st.schema, tableName}.Sanitize()
	return st, nil
}

// EnsureSchema creates the schema, table and lookup index if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := pgx.Identifier{s.schema}.Sanitize()
	index := pgx.Identifier{tableName + "_reference_idx"}.Sanitize()
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + schema,
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			id               BIGSERIAL PRIMARY KEY,
			pdu              BYTEA NOT NULL,
			sequence         INTEGER NOT NULL DEFAULT 0,
			destination_port INTEGER,
			date             BIGINT NOT NULL,
			reference_number INTEGER NOT NULL DEFAULT 0,
			count            INTEGER NOT NULL DEFAULT 1,
			address          TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS ` + index + ` ON ` + s.table +
			` (address, reference_number, count)`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("%w: ensure schema: %w", ErrStorage, err)
		}
	}
	return nil
}

// Insert stores r and returns the id assigned by the database.
func (s *PostgresStore) Insert(ctx context.Context, r *sms.Row) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO `+s.table+` (pdu, sequence, destination_port, date, reference_number, count, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, r.PDU, r.Sequence, r.DestPort, r.Date, r.ReferenceNumber, r.Count, addressColumn(r)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert: %w", ErrStorage, err)
	}
	return id, nil
}

// Query returns the rows matching sel.
func (s *PostgresStore) Query(ctx context.Context, sel sms.Selector) ([]*sms.Row, error) {
	where, args := sel.Where()
	return s.query(ctx, `SELECT `+columns+` FROM `+s.table+` WHERE `+where+` ORDER BY id`, args...)
}

// All returns every stored row.
func (s *PostgresStore) All(ctx context.Context) ([]*sms.Row, error) {
	return s.query(ctx, `SELECT `+columns+` FROM `+s.table+` ORDER BY id`)
}

// Delete removes the rows matching sel.
func (s *PostgresStore) Delete(ctx context.Context, sel sms.Selector) (int, error) {
	where, args := sel.Where()
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: delete %s: %w", ErrStorage, sel, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*sms.Row, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrStorage, err)
	}
	defer rows.Close()

	var out []*sms.Row
	for rows.Next() {
		var (
			r       sms.Row
			address *string
		)
		if err := rows.Scan(&r.ID, &r.PDU, &r.Sequence, &r.DestPort, &r.Date,
			&r.ReferenceNumber, &r.Count, &address); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrStorage, err)
		}
		if address != nil {
			r.Address = *address
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrStorage, err)
	}
	return out, nil
}

// addressColumn stores NULL for single-segment rows without an address.
// Multipart rows keep an empty address so reference lookups still match.
func addressColumn(r *sms.Row) *string {
	if r.Address == "" && r.Count <= 1 {
		return nil
	}
	a := r.Address
	return &a
}
