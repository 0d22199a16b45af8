// Package sqlstore implements the storage interfaces over sqlx for postgres
// and sqlite. Statements are generated from model descriptors with "?"
// placeholders and rebound for the connected driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/ajax_layer/internal/app/auth"
	"github.com/R3E-Network/ajax_layer/internal/app/model"
	"github.com/R3E-Network/ajax_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by a SQL database.
type Store struct {
	db *sqlx.DB
}

var _ storage.RecordStore = (*Store)(nil)
var _ storage.TagStore = (*Store)(nil)
var _ auth.UserStore = (*Store)(nil)
var _ auth.KeyStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// noLimit stands in for "no limit" when only an offset is requested;
// sqlite rejects OFFSET without LIMIT.
const noLimit = 1<<31 - 1

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func columns(m *model.Model) []string {
	names := m.FieldNames()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quote(n)
	}
	return out
}

// --- RecordStore ------------------------------------------------------------

func (s *Store) Insert(ctx context.Context, rec *model.Record) error {
	fields := rec.Model.Concrete()
	cols := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	if rec.PK != 0 {
		cols = append(cols, quote(model.PKName))
		args = append(args, rec.PK)
	}
	for _, f := range fields {
		cols = append(cols, quote(f.Name))
		args = append(args, rec.Values[f.Name])
	}

	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf(`INSERT INTO %s DEFAULT VALUES RETURNING %s`, quote(rec.Model.Table), quote(model.PKName))
	} else {
		query = fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING %s`,
			quote(rec.Model.Table), strings.Join(cols, ", "), placeholders(len(cols)), quote(model.PKName))
	}

	var pk int64
	if err := s.db.QueryRowxContext(ctx, s.db.Rebind(query), args...).Scan(&pk); err != nil {
		return fmt.Errorf("insert %s: %w", rec.Model.Name, err)
	}
	rec.PK = pk
	return nil
}

func (s *Store) Update(ctx context.Context, rec *model.Record) error {
	fields := rec.Model.Concrete()
	if len(fields) == 0 {
		_, err := s.Get(ctx, rec.Model, rec.PK)
		return err
	}
	sets := make([]string, len(fields))
	args := make([]any, 0, len(fields)+1)
	for i, f := range fields {
		sets[i] = quote(f.Name) + " = ?"
		args = append(args, rec.Values[f.Name])
	}
	args = append(args, rec.PK)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = ?`, quote(rec.Model.Table), strings.Join(sets, ", "), quote(model.PKName))
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", rec.Model.Name, rec.PK, err)
	}
	return expectRow(result, rec.Model.Name, rec.PK)
}

func (s *Store) Get(ctx context.Context, m *model.Model, pk int64) (*model.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, strings.Join(columns(m), ", "), quote(m.Table), quote(model.PKName))
	row := make(map[string]any)
	if err := s.db.QueryRowxContext(ctx, s.db.Rebind(query), pk).MapScan(row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %d: %w", m.Name, pk, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s %d: %w", m.Name, pk, err)
	}
	return toRecord(m, row)
}

func (s *Store) Delete(ctx context.Context, m *model.Model, pk int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, quote(m.Table), quote(model.PKName))
	result, err := tx.ExecContext(ctx, tx.Rebind(query), pk)
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", m.Name, pk, err)
	}
	if err := expectRow(result, m.Name, pk); err != nil {
		return err
	}
	if m.Taggable {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM ajax_tagged_items WHERE content_type = ? AND object_id = ?`), m.Table, pk); err != nil {
			return fmt.Errorf("delete %s %d tags: %w", m.Name, pk, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Count(ctx context.Context, q storage.Query) (int, error) {
	if q.None {
		return 0, nil
	}
	where, args := whereClause(q)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, quote(q.Model.Table), where)
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", q.Model.Name, err)
	}
	return n, nil
}

func (s *Store) List(ctx context.Context, q storage.Query) ([]*model.Record, error) {
	if q.None {
		return nil, nil
	}
	where, args := whereClause(q)
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY %s`,
		strings.Join(columns(q.Model), ", "), quote(q.Model.Table), where, quote(model.PKName))
	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit <= 0 {
			limit = noLimit
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, q.Offset)
	}
	return s.selectRecords(ctx, q.Model, s.db.Rebind(query), args...)
}

func (s *Store) selectRecords(ctx context.Context, m *model.Model, query string, args ...any) ([]*model.Record, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", m.Name, err)
	}
	defer rows.Close()

	var out []*model.Record
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		rec, err := toRecord(m, row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func whereClause(q storage.Query) (string, []any) {
	if len(q.Filters) == 0 {
		return "", nil
	}
	conds := make([]string, len(q.Filters))
	args := make([]any, 0, len(q.Filters))
	for i, f := range q.Filters {
		if f.Value == nil {
			conds[i] = quote(f.Field) + " IS NULL"
			continue
		}
		conds[i] = quote(f.Field) + " = ?"
		args = append(args, f.Value)
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// toRecord converts a scanned row through the field types.
func toRecord(m *model.Model, row map[string]any) (*model.Record, error) {
	rec := &model.Record{Model: m, Values: make(map[string]any, len(m.Fields))}
	for _, f := range m.Fields {
		v, err := f.Convert(row[f.Name])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", m.Name, f.Name, err)
		}
		if f.Name == model.PKName {
			pk, _ := v.(int64)
			rec.PK = pk
			continue
		}
		rec.Values[f.Name] = v
	}
	return rec, nil
}

func expectRow(result sql.Result, name string, pk int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", name, pk, storage.ErrNotFound)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
