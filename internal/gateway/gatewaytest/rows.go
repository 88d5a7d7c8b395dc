// Package gatewaytest заготовки для тестов кода, исполняющего процедуры через шлюз.
package gatewaytest

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Rows pgx.Rows поверх значений в памяти. Scan не поддерживается: шлюз читает строки через Values.
type Rows struct {
	cols   []string
	rows   [][]any
	err    error
	idx    int
	closed bool
}

func NewRows(cols []string, rows ...[]any) *Rows {
	return &Rows{cols: cols, rows: rows}
}

// WithErr ошибка, которую вернет Err после чтения всех строк.
func (r *Rows) WithErr(err error) *Rows {
	r.err = err
	return r
}

func (r *Rows) Closed() bool { return r.closed }

func (r *Rows) Close() { r.closed = true }

func (r *Rows) Err() error { return r.err }

func (r *Rows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag(fmt.Sprintf("SELECT %d", len(r.rows)))
}

func (r *Rows) FieldDescriptions() []pgconn.FieldDescription {
	fields := make([]pgconn.FieldDescription, len(r.cols))
	for i, c := range r.cols {
		fields[i] = pgconn.FieldDescription{Name: c}
	}
	return fields
}

func (r *Rows) Next() bool {
	if r.closed || r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *Rows) Scan(...any) error { return errors.New("scan is not supported") }

func (r *Rows) Values() ([]any, error) { return r.rows[r.idx-1], nil }

func (r *Rows) RawValues() [][]byte { return nil }

func (r *Rows) Conn() *pgx.Conn { return nil }
