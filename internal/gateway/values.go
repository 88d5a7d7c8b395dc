package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/jackc/pgx/v5/pgtype"
)

// Row строка набора результата.
type Row map[string]any

func malformed(col, format string, args ...any) *rpcerr.Error {
	return rpcerr.Internal(rpcerr.ReasonMalformedResult, "backend returned a malformed result").
		WithCause(fmt.Errorf("column %s: "+format, append([]any{col}, args...)...))
}

// String текстовое значение колонки. Отсутствующая колонка считается ошибкой результата.
func (r Row) String(col string) (string, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return "", malformed(col, "missing")
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case [16]byte:
		return pgtype.UUID{Bytes: t, Valid: true}.String(), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	return "", malformed(col, "unexpected type %T", v)
}

// Int64 целое значение колонки. Принимает все целые типы драйвера, numeric без дробной части
// и строки из JSON.
func (r Row) Int64(col string) (int64, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return 0, malformed(col, "missing")
	}
	switch t := v.(type) {
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int:
		return int64(t), nil
	case float64:
		if t != math.Trunc(t) || math.Abs(t) > math.MaxInt64 {
			return 0, malformed(col, "not an integer: %v", t)
		}
		return int64(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, malformed(col, "%s", err.Error())
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, malformed(col, "%s", err.Error())
		}
		return n, nil
	case pgtype.Numeric:
		n, err := t.Int64Value()
		if err != nil || !n.Valid {
			return 0, malformed(col, "numeric is not an integer")
		}
		return n.Int64, nil
	}
	return 0, malformed(col, "unexpected type %T", v)
}

// Time время колонки в UTC. nil, если значение NULL или колонки нет.
func (r Row) Time(col string) (*time.Time, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return nil, nil //nolint:nilnil
	}
	var out time.Time
	switch t := v.(type) {
	case time.Time:
		out = t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil, malformed(col, "%s", err.Error())
		}
		out = parsed
	default:
		return nil, malformed(col, "unexpected type %T", v)
	}
	out = out.UTC()
	return &out, nil
}

// JSON вложенный документ колонки. Драйвер отдает jsonb уже разобранным, text с JSON разбирается здесь.
func (r Row) JSON(col string) (any, error) {
	v, ok := r[col]
	if !ok || v == nil {
		return nil, nil
	}
	var raw []byte
	switch t := v.(type) {
	case map[string]any, []any:
		return t, nil
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	default:
		return nil, malformed(col, "unexpected type %T", v)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, malformed(col, "invalid json: %s", err.Error())
	}
	return out, nil
}

// FormatTime ISO-8601 в UTC для ответов клиенту. nil остается nil.
func FormatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
