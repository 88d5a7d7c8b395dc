package operations

import (
	"context"
	"encoding/json"

	"github.com/fsdevblog/escrow-gateway/internal/authz"
	"github.com/fsdevblog/escrow-gateway/internal/docstore"
	"github.com/fsdevblog/escrow-gateway/internal/domain"
	"github.com/fsdevblog/escrow-gateway/internal/gateway"
	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/sirupsen/logrus"
)

const RoutineOrderGet = "order_get"

type orderInput struct {
	OrderID string `json:"orderId" validate:"required,max_bytes=128"`
}

type OrderView struct {
	ID             string                 `json:"id"`
	ProductID      string                 `json:"productId"`
	BuyerID        string                 `json:"buyerId"`
	SellerID       string                 `json:"sellerId"`
	PriceGold      int64                  `json:"priceGold"`
	CommissionGold int64                  `json:"commissionGold"`
	TotalGold      int64                  `json:"totalGold"`
	Status         domain.OrderStatusType `json:"status"`
	Reason         string                 `json:"reason,omitempty"`
	CreatedAt      *string                `json:"createdAt"`
	CompletedAt    *string                `json:"completedAt"`
	CanceledAt     *string                `json:"canceledAt"`
	Escrow         EscrowView             `json:"escrow"`
	Reservation    *ReservationView       `json:"reservation"`
}

type EscrowView struct {
	Status     domain.EscrowStatusType `json:"status"`
	AmountGold int64                   `json:"amountGold"`
}

type ReservationView struct {
	OrderID    string  `json:"orderId"`
	BuyerID    string  `json:"buyerId"`
	ReservedAt *string `json:"reservedAt"`
}

// fetchFunc читает строку заказа одним из путей.
type fetchFunc func(ctx context.Context, sess *gateway.Session, req *gateway.Request, orderID string) (*gateway.Result, error)

func orderDefinition(az *authz.Authorizer, docs *docstore.Store) *gateway.Definition {
	var fetch fetchFunc = func(ctx context.Context, sess *gateway.Session, req *gateway.Request, _ string) (*gateway.Result, error) {
		return sess.Execute(ctx, req)
	}
	if docs != nil {
		fetch = func(ctx context.Context, _ *gateway.Session, _ *gateway.Request, orderID string) (*gateway.Result, error) {
			return orderDocument(ctx, docs, orderID)
		}
	}

	return gateway.MustDefinition(gateway.DefinitionArgs[orderInput]{
		Name:     OpOrderGet,
		Resource: "escrow",
		Action:   "read",
		Region:   region(docs),
		Routine:  RoutineOrderGet,
		ParseInput: func(raw json.RawMessage, _ gateway.CallerContext) (orderInput, error) {
			return gateway.DecodeInput[orderInput](raw)
		},
		Bind: func(req *gateway.Request, p orderInput, _ gateway.CallerContext) error {
			req.Input("p_order_id", gateway.Text, p.OrderID)
			return nil
		},
		// заказ видят только его стороны и администратор.
		Execute: func(
			ctx context.Context,
			sess *gateway.Session,
			req *gateway.Request,
			p orderInput,
			cc gateway.CallerContext,
		) (any, error) {
			grant, err := az.AdminStatus(ctx, cc.Identity)
			if err != nil {
				return nil, err //nolint:wrapcheck
			}
			res, err := fetch(ctx, sess, req, p.OrderID)
			if err != nil {
				return nil, err
			}
			row, found := res.First()
			if !found {
				return nil, rpcerr.NotFound(rpcerr.ReasonOrderNotFound, "order not found")
			}
			if grant == nil {
				r := gateway.Row(row)
				buyer, _ := r.String("buyer_id")
				seller, _ := r.String("seller_id")
				if uid := cc.UID(); uid != buyer && uid != seller {
					return nil, rpcerr.PermissionDenied(rpcerr.ReasonNotOrderParty, "caller is not a party of this order")
				}
			}
			return res, nil
		},
		Transform: func(raw any, _ orderInput, _ gateway.CallerContext) (any, error) {
			return orderView(raw)
		},
		ScopeContext: func(payload gateway.Payload, _ gateway.CallerContext) map[string]any {
			return map[string]any{"orderId": payload.String("orderId")}
		},
		LogContext: func(p orderInput, _ gateway.CallerContext) logrus.Fields {
			return logrus.Fields{"orderId": p.OrderID}
		},
	})
}

func orderView(raw any) (OrderView, error) {
	res, ok := raw.(*gateway.Result)
	if !ok || res.Empty() {
		return OrderView{}, rpcerr.NotFound(rpcerr.ReasonOrderNotFound, "order not found")
	}
	row, _ := res.First()
	r := gateway.Row(row)

	var (
		v   OrderView
		err error
	)
	for col, dst := range map[string]*string{
		"id":         &v.ID,
		"product_id": &v.ProductID,
		"buyer_id":   &v.BuyerID,
		"seller_id":  &v.SellerID,
	} {
		if *dst, err = r.String(col); err != nil {
			return OrderView{}, err
		}
	}
	for col, dst := range map[string]*int64{
		"price_gold":      &v.PriceGold,
		"commission_gold": &v.CommissionGold,
		"total_gold":      &v.TotalGold,
		"escrow_amount":   &v.Escrow.AmountGold,
	} {
		if *dst, err = r.Int64(col); err != nil {
			return OrderView{}, err
		}
	}

	status, err := r.String("status")
	if err != nil {
		return OrderView{}, err
	}
	v.Status = domain.OrderStatusType(status)
	escrowStatus, err := r.String("escrow_status")
	if err != nil {
		return OrderView{}, err
	}
	v.Escrow.Status = domain.EscrowStatusType(escrowStatus)
	if reason, isText := r["reason"].(string); isText {
		v.Reason = reason
	}

	for col, dst := range map[string]**string{
		"created_at":   &v.CreatedAt,
		"completed_at": &v.CompletedAt,
		"canceled_at":  &v.CanceledAt,
	} {
		t, timeErr := r.Time(col)
		if timeErr != nil {
			return OrderView{}, timeErr
		}
		*dst = gateway.FormatTime(t)
	}

	if v.Reservation, err = reservationView(r); err != nil {
		return OrderView{}, err
	}
	return v, nil
}

// reservationView резерв товара приходит вложенным json документом. Его нет, если заказ уже закрыт.
func reservationView(r gateway.Row) (*ReservationView, error) {
	doc, err := r.JSON("reservation")
	if err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, nil //nolint:nilnil
	}
	res := gateway.Row(obj)
	var out ReservationView
	if out.OrderID, err = res.String("orderId"); err != nil {
		return nil, err
	}
	if out.BuyerID, err = res.String("buyerId"); err != nil {
		return nil, err
	}
	reserved, err := res.Time("reservedAt")
	if err != nil {
		return nil, err
	}
	out.ReservedAt = gateway.FormatTime(reserved)
	return &out, nil
}
