// Package postgres implements record.Source over a Postgres table using
// keyset pagination on (order column, id column).
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/RezaEskandarii/notifire/internal/record"
	"github.com/lib/pq"
)

// Predicate is the filter type this source accepts. Clause numbers its own
// placeholders from $1; the source appends its keyset arguments after them.
type Predicate struct {
	Clause string
	Args   []any
}

// Table describes the scanned relation.
type Table struct {
	Name        string
	IDColumn    string
	OrderColumn string
	// Columns are selected in this order and handed to the ScanFunc.
	Columns []string
}

// Scanner is satisfied by *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanFunc maps one selected row to a record.
type ScanFunc[R record.Keyed] func(row Scanner) (R, error)

type Source[R record.Keyed] struct {
	db    *sql.DB
	table Table
	scan  ScanFunc[R]
}

func NewSource[R record.Keyed](db *sql.DB, table Table, scan ScanFunc[R]) *Source[R] {
	return &Source[R]{db: db, table: table, scan: scan}
}

func (s *Source[R]) Count(ctx context.Context, filter record.Filter) (int, error) {
	p, err := predicateOf(filter)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", s.table.Name, p.Clause)

	var count int
	if err := s.db.QueryRowContext(ctx, query, p.Args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table.Name, err)
	}
	return count, nil
}

func (s *Source[R]) FindPage(ctx context.Context, q record.Query) ([]R, error) {
	p, err := predicateOf(q.Filter)
	if err != nil {
		return nil, err
	}
	if q.Limit < 1 {
		return nil, fmt.Errorf("page limit must be positive, got %d", q.Limit)
	}

	where := "(" + p.Clause + ")"
	args := append([]any{}, p.Args...)
	argIndex := len(args) + 1

	orderCol, idCol := s.table.OrderColumn, s.table.IDColumn

	if q.After != nil {
		where += fmt.Sprintf(" AND (%s > $%d OR (%s = $%d AND %s > $%d))",
			orderCol, argIndex, orderCol, argIndex, idCol, argIndex+1)
		args = append(args, q.After.OrderKey, q.After.ID)
		argIndex += 2
	}

	if len(q.IDs) > 0 {
		where += fmt.Sprintf(" AND %s = ANY($%d)", idCol, argIndex)
		args = append(args, pq.Array(q.IDs))
		argIndex++
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s ORDER BY %s ASC, %s ASC LIMIT $%d",
		strings.Join(s.table.Columns, ", "), s.table.Name, where, orderCol, idCol, argIndex,
	)
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find page in %s: %w", s.table.Name, err)
	}
	defer rows.Close()

	items := make([]R, 0, q.Limit)
	for rows.Next() {
		item, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", s.table.Name, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func predicateOf(filter record.Filter) (Predicate, error) {
	switch f := filter.(type) {
	case nil:
		return Predicate{Clause: "TRUE"}, nil
	case Predicate:
		if strings.TrimSpace(f.Clause) == "" {
			f.Clause = "TRUE"
		}
		return f, nil
	case *Predicate:
		if f == nil {
			return Predicate{Clause: "TRUE"}, nil
		}
		return predicateOf(*f)
	default:
		return Predicate{}, fmt.Errorf("postgres source: unsupported filter type %T", filter)
	}
}
