package escrow

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/fsdevblog/escrow-gateway/internal/authz"
	"github.com/fsdevblog/escrow-gateway/internal/gateway"
	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/sirupsen/logrus"
)

// Имена операций.
const (
	OpCreateOrder = "escrow.createOrder"
	OpRelease     = "escrow.release"
	OpRefund      = "escrow.refund"
	OpAdjust      = "wallet.adjust"
)

type createOrderInput struct {
	ProductID string `json:"productId" validate:"required,max_bytes=128"`
	// BuyerID покупатель, от имени которого блокирует администратор. Только вместе с AdminOverride.
	BuyerID       string `json:"buyerId"       validate:"omitempty,max_bytes=128"`
	AdminOverride bool   `json:"adminOverride"`
}

type settleInput struct {
	OrderID string `json:"orderId" validate:"required,max_bytes=128"`
	Reason  string `json:"reason"  validate:"omitempty,max_bytes=512"`
}

type adjustInput struct {
	TargetID string         `json:"targetId" validate:"required,max_bytes=128"`
	Delta    json.Number    `json:"delta"`
	Reason   string         `json:"reason"   validate:"omitempty,max_bytes=512"`
	Metadata map[string]any `json:"metadata"`

	delta int64
}

// Definitions операции эскроу поверх выбранного пути исполнения.
func Definitions(backend Backend, az *authz.Authorizer) []*gateway.Definition {
	routine := func(name string) string {
		if _, ok := backend.(*RelationalBackend); ok {
			return name
		}
		return ""
	}

	createOrder := gateway.MustDefinition(gateway.DefinitionArgs[createOrderInput]{
		Name:                  OpCreateOrder,
		RequireVerifiedClient: true,
		Resource:              "escrow",
		Action:                "lock",
		Region:                backend.Name(),
		Routine:               routine(RoutineLock),
		ParseInput: func(raw json.RawMessage, _ gateway.CallerContext) (createOrderInput, error) {
			return gateway.DecodeInput[createOrderInput](raw)
		},
		Execute: func(
			ctx context.Context,
			sess *gateway.Session,
			_ *gateway.Request,
			p createOrderInput,
			cc gateway.CallerContext,
		) (any, error) {
			cmd := LockCommand{ProductID: p.ProductID, CallerID: cc.UID()}
			switch {
			case p.AdminOverride:
				grant, err := az.RequireAdmin(ctx, cc.Identity)
				if err != nil {
					return nil, err //nolint:wrapcheck
				}
				if cmd.Override, err = NewOverride(grant, p.BuyerID); err != nil {
					return nil, err
				}
			case p.BuyerID != "" && p.BuyerID != cmd.CallerID:
				return nil, rpcerr.InvalidArgument(rpcerr.ReasonInvalidPayload, "buyerId requires adminOverride")
			}
			return backend.Lock(ctx, sess, cmd)
		},
		ScopeContext: func(payload gateway.Payload, _ gateway.CallerContext) map[string]any {
			return map[string]any{"productId": payload.String("productId")}
		},
		LogContext: func(p createOrderInput, _ gateway.CallerContext) logrus.Fields {
			return logrus.Fields{"productId": p.ProductID, "adminOverride": p.AdminOverride}
		},
		MapError: MapError,
	})

	release := settleDefinition(OpRelease, "release", routine(RoutineRelease), backend, az, backend.Release)
	refund := settleDefinition(OpRefund, "refund", routine(RoutineRefund), backend, az, backend.Refund)

	adjust := gateway.MustDefinition(gateway.DefinitionArgs[adjustInput]{
		Name:                  OpAdjust,
		RequireVerifiedClient: true,
		Resource:              "wallet",
		Action:                "adjust",
		Region:                backend.Name(),
		ParseInput: func(raw json.RawMessage, _ gateway.CallerContext) (adjustInput, error) {
			p, err := gateway.DecodeInput[adjustInput](raw)
			if err != nil {
				return p, err //nolint:wrapcheck
			}
			p.delta, err = parseDelta(p.Delta)
			return p, err
		},
		Execute: func(
			ctx context.Context,
			sess *gateway.Session,
			_ *gateway.Request,
			p adjustInput,
			cc gateway.CallerContext,
		) (any, error) {
			grant, err := az.RequireAdmin(ctx, cc.Identity)
			if err != nil {
				return nil, err //nolint:wrapcheck
			}
			return backend.Adjust(ctx, sess, AdjustCommand{
				TargetID: p.TargetID,
				Delta:    p.delta,
				Reason:   p.Reason,
				Metadata: p.Metadata,
				Admin:    grant,
			})
		},
		ScopeContext: func(payload gateway.Payload, _ gateway.CallerContext) map[string]any {
			return map[string]any{"targetId": payload.String("targetId")}
		},
		LogContext: func(p adjustInput, _ gateway.CallerContext) logrus.Fields {
			return logrus.Fields{"targetId": p.TargetID, "delta": p.delta}
		},
		MapError: MapError,
	})

	return []*gateway.Definition{createOrder, release, refund, adjust}
}

type settleFunc func(ctx context.Context, sess *gateway.Session, cmd SettleCommand) (SettleResult, error)

// settleDefinition выпуск и возврат различаются только действием и процедурой. Сначала вызывающий
// пробует действовать как сторона заказа. Права администратора проверяются только после отказа
// not_order_party, и повтор идет с подтверждением.
func settleDefinition(
	name, action, routine string,
	backend Backend,
	az *authz.Authorizer,
	settle settleFunc,
) *gateway.Definition {
	return gateway.MustDefinition(gateway.DefinitionArgs[settleInput]{
		Name:                  name,
		RequireVerifiedClient: true,
		Resource:              "escrow",
		Action:                action,
		Region:                backend.Name(),
		Routine:               routine,
		ParseInput: func(raw json.RawMessage, _ gateway.CallerContext) (settleInput, error) {
			return gateway.DecodeInput[settleInput](raw)
		},
		Execute: func(
			ctx context.Context,
			sess *gateway.Session,
			_ *gateway.Request,
			p settleInput,
			cc gateway.CallerContext,
		) (any, error) {
			cmd := SettleCommand{OrderID: p.OrderID, ActorID: cc.UID(), Reason: p.Reason}
			res, err := settle(ctx, sess, cmd)
			if !isNotOrderParty(err) {
				return res, err
			}
			grant, adminErr := az.AdminStatus(ctx, cc.Identity)
			if adminErr != nil {
				return nil, adminErr //nolint:wrapcheck
			}
			if grant == nil {
				return nil, err
			}
			cmd.Admin = grant
			return settle(ctx, sess, cmd)
		},
		ScopeContext: func(payload gateway.Payload, _ gateway.CallerContext) map[string]any {
			return map[string]any{"orderId": payload.String("orderId")}
		},
		LogContext: func(p settleInput, _ gateway.CallerContext) logrus.Fields {
			return logrus.Fields{"orderId": p.OrderID}
		},
		MapError: MapError,
	})
}

// parseDelta дельта должна быть ненулевым целым. Дробные, экспоненциальные и пустые значения отклоняются.
func parseDelta(n json.Number) (int64, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, rpcerr.InvalidArgument(rpcerr.ReasonInvalidDelta, "delta is required")
	}
	delta, err := n.Int64()
	if err != nil {
		return 0, rpcerr.InvalidArgument(rpcerr.ReasonInvalidDelta, "delta must be a non-zero integer")
	}
	if delta == 0 {
		return 0, rpcerr.InvalidArgument(rpcerr.ReasonInvalidDelta, "delta must not be zero")
	}
	return delta, nil
}
