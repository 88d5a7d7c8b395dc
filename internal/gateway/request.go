package gateway

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ParamType тип параметра хранимой процедуры. Подставляется в явное приведение $n::type.
type ParamType string

const (
	Text        ParamType = "text"
	BigInt      ParamType = "bigint"
	Numeric     ParamType = "numeric"
	Bool        ParamType = "boolean"
	JSONB       ParamType = "jsonb"
	UUID        ParamType = "uuid"
	Timestamptz ParamType = "timestamptz"
)

func (t ParamType) valid() bool {
	switch t {
	case Text, BigInt, Numeric, Bool, JSONB, UUID, Timestamptz:
		return true
	}
	return false
}

var (
	ErrInvalidParamName = errors.New("[gateway] invalid parameter name")
	ErrInvalidParamType = errors.New("[gateway] invalid parameter type")
	ErrDuplicateParam   = errors.New("[gateway] duplicate parameter")
	ErrNoRoutine        = errors.New("[gateway] routine is not set")
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type Param struct {
	Name  string
	Type  ParamType
	Value any
}

// Request параметры вызова хранимой процедуры. Значения передаются только как аргументы запроса.
type Request struct {
	routine string
	params  []Param
	err     error
}

func NewRequest(routine string) *Request {
	return &Request{routine: routine}
}

func (r *Request) Routine() string {
	return r.routine
}

// Input добавляет параметр. Ошибка копится и возвращается из Err и Statement.
func (r *Request) Input(name string, typ ParamType, value any) *Request {
	if r.err != nil {
		return r
	}
	switch {
	case !identRe.MatchString(name):
		r.err = fmt.Errorf("%w: %q", ErrInvalidParamName, name)
	case !typ.valid():
		r.err = fmt.Errorf("%w: %q", ErrInvalidParamType, typ)
	case r.has(name):
		r.err = fmt.Errorf("%w: %q", ErrDuplicateParam, name)
	default:
		r.params = append(r.params, Param{Name: name, Type: typ, Value: value})
	}
	return r
}

func (r *Request) Params() []Param {
	return r.params
}

// ParamNames имена параметров без значений, для логов.
func (r *Request) ParamNames() []string {
	names := make([]string, 0, len(r.params))
	for _, p := range r.params {
		names = append(names, p.Name)
	}
	return names
}

func (r *Request) Err() error {
	return r.err
}

// Statement собирает вызов процедуры в именованной нотации:
//
//	SELECT * FROM "public"."escrow_lock"("p_product_id" => $1::text, ...)
func (r *Request) Statement(schema string) (string, []any, error) {
	if r.err != nil {
		return "", nil, r.err
	}
	if r.routine == "" {
		return "", nil, ErrNoRoutine
	}

	ident := pgx.Identifier{r.routine}
	if schema != "" {
		ident = pgx.Identifier{schema, r.routine}
	}

	var sb strings.Builder
	args := make([]any, 0, len(r.params))
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(ident.Sanitize())
	sb.WriteByte('(')
	for i, p := range r.params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s => $%d::%s", pgx.Identifier{p.Name}.Sanitize(), i+1, p.Type)
		args = append(args, p.Value)
	}
	sb.WriteByte(')')
	return sb.String(), args, nil
}

func (r *Request) has(name string) bool {
	for _, p := range r.params {
		if p.Name == name {
			return true
		}
	}
	return false
}
