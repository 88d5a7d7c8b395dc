package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/sirupsen/logrus"
)

var ErrInvalidDefinition = errors.New("[gateway] invalid operation definition")

// DefinitionArgs типизированное описание операции. P тип разобранных входных данных.
type DefinitionArgs[P any] struct {
	Name string
	// RequireVerifiedClient требует аттестации клиентского приложения.
	RequireVerifiedClient bool
	// Resource и Action пара для оценщика политик. Пустой Resource - без проверки политики.
	Resource string
	Action   string
	// Region целевой регион или раздел бекенда, попадает в логи.
	Region string
	// Routine хранимая процедура для исполнения по умолчанию.
	Routine string

	ParseInput func(raw json.RawMessage, cc CallerContext) (P, error)
	Bind       func(req *Request, p P, cc CallerContext) error
	// Execute заменяет вызов процедуры. Сессия выдает соединение лениво.
	Execute   func(ctx context.Context, sess *Session, req *Request, p P, cc CallerContext) (any, error)
	Transform func(raw any, p P, cc CallerContext) (any, error)

	ScopeContext func(payload Payload, cc CallerContext) map[string]any
	LogContext   func(p P, cc CallerContext) logrus.Fields
	MapError     rpcerr.MapErrorFunc
}

// Definition операция, готовая к регистрации. Типы входных данных стерты, набор функций неизменяем.
type Definition struct {
	name                  string
	requireVerifiedClient bool
	resource              string
	action                string
	region                string
	routine               string

	parse     func(raw json.RawMessage, cc CallerContext) (any, error)
	bind      func(req *Request, p any, cc CallerContext) error
	execute   func(ctx context.Context, sess *Session, req *Request, p any, cc CallerContext) (any, error)
	transform func(raw any, p any, cc CallerContext) (any, error)
	scope     func(payload Payload, cc CallerContext) map[string]any
	logCtx    func(p any, cc CallerContext) logrus.Fields
	mapError  rpcerr.MapErrorFunc
}

func NewDefinition[P any](args DefinitionArgs[P]) (*Definition, error) {
	if args.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if args.ParseInput == nil {
		return nil, fmt.Errorf("%w: %s: ParseInput is required", ErrInvalidDefinition, args.Name)
	}
	if args.Execute == nil && args.Routine == "" {
		return nil, fmt.Errorf("%w: %s: either Routine or Execute is required", ErrInvalidDefinition, args.Name)
	}
	if args.Action != "" && args.Resource == "" {
		return nil, fmt.Errorf("%w: %s: Action without Resource", ErrInvalidDefinition, args.Name)
	}

	d := &Definition{
		name:                  args.Name,
		requireVerifiedClient: args.RequireVerifiedClient,
		resource:              args.Resource,
		action:                args.Action,
		region:                args.Region,
		routine:               args.Routine,
		mapError:              args.MapError,
		parse: func(raw json.RawMessage, cc CallerContext) (any, error) {
			return args.ParseInput(raw, cc)
		},
		bind: func(*Request, any, CallerContext) error { return nil },
		execute: func(ctx context.Context, sess *Session, req *Request, _ any, _ CallerContext) (any, error) {
			return sess.Execute(ctx, req)
		},
		transform: func(raw any, _ any, _ CallerContext) (any, error) { return raw, nil },
		scope:     func(Payload, CallerContext) map[string]any { return nil },
		logCtx:    func(any, CallerContext) logrus.Fields { return nil },
	}

	if args.Bind != nil {
		d.bind = func(req *Request, p any, cc CallerContext) error {
			return args.Bind(req, p.(P), cc) //nolint:forcetypeassert
		}
	}
	if args.Execute != nil {
		d.execute = func(ctx context.Context, sess *Session, req *Request, p any, cc CallerContext) (any, error) {
			return args.Execute(ctx, sess, req, p.(P), cc) //nolint:forcetypeassert
		}
	}
	if args.Transform != nil {
		d.transform = func(raw any, p any, cc CallerContext) (any, error) {
			return args.Transform(raw, p.(P), cc) //nolint:forcetypeassert
		}
	}
	if args.ScopeContext != nil {
		d.scope = args.ScopeContext
	}
	if args.LogContext != nil {
		d.logCtx = func(p any, cc CallerContext) logrus.Fields {
			return args.LogContext(p.(P), cc) //nolint:forcetypeassert
		}
	}
	return d, nil
}

// MustDefinition как NewDefinition, но паникует. Для определений, собранных при старте.
func MustDefinition[P any](args DefinitionArgs[P]) *Definition {
	d, err := NewDefinition(args)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Definition) Name() string {
	return d.name
}

func (d *Definition) Resource() string {
	return d.resource
}

func (d *Definition) Action() string {
	return d.action
}

func (d *Definition) Region() string {
	return d.region
}

func (d *Definition) Routine() string {
	return d.routine
}

func (d *Definition) RequiresVerifiedClient() bool {
	return d.requireVerifiedClient
}

// scopeOf и logFieldsOf не должны ронять вызов: паника построителя превращается в пустой результат.
func (d *Definition) scopeOf(payload Payload, cc CallerContext) (scope map[string]any) {
	defer func() {
		if recover() != nil {
			scope = nil
		}
	}()
	return d.scope(payload, cc)
}

func (d *Definition) logFieldsOf(p any, cc CallerContext) (fields logrus.Fields) {
	defer func() {
		if recover() != nil {
			fields = nil
		}
	}()
	return d.logCtx(p, cc)
}
