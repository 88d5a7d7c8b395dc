package gateway

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Recordset строки одного набора результата.
type Recordset struct {
	Columns []string
	Rows    []map[string]any
}

// Result сырой результат вызова процедуры.
type Result struct {
	Recordsets   []Recordset
	Output       map[string]any
	RowsAffected int64
}

// First первая строка первого набора.
func (r *Result) First() (map[string]any, bool) {
	if r == nil || len(r.Recordsets) == 0 || len(r.Recordsets[0].Rows) == 0 {
		return nil, false
	}
	return r.Recordsets[0].Rows[0], true
}

// Empty сообщает, что процедура не вернула ни одной строки.
func (r *Result) Empty() bool {
	_, ok := r.First()
	return !ok
}

// collectRows читает строки в память и закрывает rows. Единственная строка дублируется в Output,
// как выходные параметры процедуры.
func collectRows(rows pgx.Rows) (*Result, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	set := Recordset{Columns: make([]string, len(fields))}
	for i, f := range fields {
		set.Columns[i] = f.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		row := make(map[string]any, len(values))
		for i, v := range values {
			if i < len(set.Columns) {
				row[set.Columns[i]] = v
			}
		}
		set.Rows = append(set.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err //nolint:wrapcheck
	}

	res := &Result{
		Recordsets:   []Recordset{set},
		RowsAffected: rows.CommandTag().RowsAffected(),
	}
	if len(set.Rows) == 1 {
		res.Output = set.Rows[0]
	}
	return res, nil
}
