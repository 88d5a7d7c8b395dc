package authz

import (
	"context"
	"errors"

	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
)

const (
	AdminResource = "escrow"
	AdminAction   = "admin"
)

// AdminGrant подтверждение того, что вызывающий прошел проверку прав администратора.
// Поля не экспортируются: значение можно получить только из Authorizer.
type AdminGrant struct {
	actorID string
}

// ActorID администратор, которому выдано подтверждение.
func (g *AdminGrant) ActorID() string {
	if g == nil {
		return ""
	}
	return g.actorID
}

type Authorizer struct {
	evaluator PolicyEvaluator
}

func NewAuthorizer(evaluator PolicyEvaluator) *Authorizer {
	return &Authorizer{evaluator: evaluator}
}

// RequireAdmin выдает AdminGrant или возвращает permission-denied.
func (a *Authorizer) RequireAdmin(ctx context.Context, id *Identity) (*AdminGrant, error) {
	grant, err := a.AdminStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, rpcerr.PermissionDenied(rpcerr.ReasonAdminRequired, "admin privilege required")
	}
	return grant, nil
}

// AdminStatus как RequireAdmin, но отказ не считается ошибкой: возвращается nil.
func (a *Authorizer) AdminStatus(ctx context.Context, id *Identity) (*AdminGrant, error) {
	if id == nil || id.UID == "" {
		return nil, rpcerr.Unauthenticated("caller identity required")
	}
	if a == nil || a.evaluator == nil {
		return nil, rpcerr.Internal(rpcerr.ReasonPolicyEvaluationFailed, "policy evaluator is not configured")
	}
	err := a.evaluator.AssertAllowed(ctx, PolicyRequest{
		Identity: *id,
		Resource: AdminResource,
		Action:   AdminAction,
	})
	switch {
	case err == nil:
		return &AdminGrant{actorID: id.UID}, nil
	case errors.Is(err, ErrDenied):
		return nil, nil
	default:
		return nil, rpcerr.Internal(rpcerr.ReasonPolicyEvaluationFailed, "policy evaluation failed").WithCause(err)
	}
}
