package escrow

import (
	"time"

	"github.com/fsdevblog/escrow-gateway/internal/authz"
	"github.com/fsdevblog/escrow-gateway/internal/domain"
	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/shopspring/decimal"
)

// Функции плана чистые: получают прочитанное состояние и возвращают новое состояние или типизированную
// ошибку. Хранилище только читает входы и записывает выходы плана.

type LockInput struct {
	ProductID string
	Product   *domain.Product
	BuyerID   string
	// Buyer nil, если кошелька нет: баланс считается нулевым.
	Buyer   *domain.Wallet
	OrderID string
	Rate    decimal.Decimal
	Now     time.Time
}

type LockPlan struct {
	Order   domain.Order
	Escrow  domain.Escrow
	Product domain.Product
	Buyer   domain.Wallet
}

func PlanLock(in LockInput) (LockPlan, error) {
	if in.Product == nil {
		return LockPlan{}, fail(rpcerr.ReasonProductNotFound, "product not found")
	}
	if in.Product.Status != domain.ProductStatusActive {
		return LockPlan{}, fail(rpcerr.ReasonProductNotActive, "product is not active")
	}
	if in.Product.SellerID == in.BuyerID {
		return LockPlan{}, fail(rpcerr.ReasonSelfPurchase, "cannot buy own product")
	}

	buyer := domain.Wallet{OwnerID: in.BuyerID}
	if in.Buyer != nil {
		buyer = *in.Buyer
	}

	commission, total, err := domain.Quote(in.Product.PriceGold, in.Rate)
	if err != nil {
		return LockPlan{}, failf(rpcerr.ReasonAmountOutOfRange,
			"order total is out of range: price=%d", in.Product.PriceGold)
	}
	if buyer.Balance < total {
		return LockPlan{}, failf(rpcerr.ReasonInsufficientBalance,
			"insufficient balance: required=%d available=%d", total, buyer.Balance)
	}

	buyer.Balance -= total
	buyer.UpdatedAt = in.Now

	product := *in.Product
	product.Status = domain.ProductStatusReserved
	product.Reservation = &domain.Reservation{OrderID: in.OrderID, BuyerID: in.BuyerID, ReservedAt: in.Now}
	product.UpdatedAt = in.Now

	return LockPlan{
		Order: domain.Order{
			ID:             in.OrderID,
			ProductID:      product.ID,
			BuyerID:        in.BuyerID,
			SellerID:       product.SellerID,
			PriceGold:      product.PriceGold,
			CommissionGold: commission,
			TotalGold:      total,
			Status:         domain.OrderStatusPending,
			CreatedAt:      in.Now,
		},
		Escrow: domain.Escrow{
			OrderID:    in.OrderID,
			AmountGold: total,
			Status:     domain.EscrowStatusLocked,
			CreatedAt:  in.Now,
			UpdatedAt:  in.Now,
		},
		Product: product,
		Buyer:   buyer,
	}, nil
}

// SettleInput прочитанное состояние заказа для выпуска или возврата.
type SettleInput struct {
	Order   *domain.Order
	Escrow  *domain.Escrow
	Product *domain.Product
	ActorID string
	Admin   *authz.AdminGrant
	Reason  string
	Now     time.Time
}

// checkSettle общие предусловия выпуска и возврата. parties стороны заказа, которым разрешено действие.
func checkSettle(in SettleInput, parties ...string) error {
	if in.Order == nil {
		return notFound(rpcerr.ReasonOrderNotFound, "order not found")
	}
	if in.Escrow == nil {
		return notFound(rpcerr.ReasonEscrowNotFound, "escrow not found")
	}
	if in.Order.Status != domain.OrderStatusPending {
		return fail(rpcerr.ReasonOrderNotPending, "order is not pending")
	}
	if in.Escrow.Status != domain.EscrowStatusLocked {
		return fail(rpcerr.ReasonEscrowNotLocked, "escrow is not locked")
	}
	if in.Admin == nil {
		allowed := false
		for _, p := range parties {
			if p != "" && p == in.ActorID {
				allowed = true
				break
			}
		}
		if !allowed {
			return rpcerr.PermissionDenied(rpcerr.ReasonNotOrderParty, "actor is not allowed to settle this order")
		}
	}
	if in.Product == nil {
		return notFound(rpcerr.ReasonProductNotFound, "product not found")
	}
	return nil
}

type ReleasePlan struct {
	Order   domain.Order
	Escrow  domain.Escrow
	Product domain.Product
	// SellerCredit и PlatformCredit суммы зачисления на кошельки продавца и платформы.
	SellerCredit   int64
	PlatformCredit int64
}

func PlanRelease(in SettleInput) (ReleasePlan, error) {
	if err := checkSettle(in, orderSeller(in.Order)); err != nil {
		return ReleasePlan{}, err
	}
	order, esc, product := *in.Order, *in.Escrow, *in.Product

	now := in.Now
	order.Status = domain.OrderStatusCompleted
	order.CompletedAt = &now
	esc.Status = domain.EscrowStatusReleased
	esc.UpdatedAt = now
	product.Status = domain.ProductStatusSold
	product.UpdatedAt = now

	return ReleasePlan{
		Order:          order,
		Escrow:         esc,
		Product:        product,
		SellerCredit:   order.PriceGold,
		PlatformCredit: order.CommissionGold,
	}, nil
}

type RefundPlan struct {
	Order       domain.Order
	Escrow      domain.Escrow
	Product     domain.Product
	BuyerCredit int64
}

func PlanRefund(in SettleInput) (RefundPlan, error) {
	if err := checkSettle(in, orderBuyer(in.Order), orderSeller(in.Order)); err != nil {
		return RefundPlan{}, err
	}
	order, esc, product := *in.Order, *in.Escrow, *in.Product

	now := in.Now
	order.Status = domain.OrderStatusCanceled
	order.CanceledAt = &now
	order.Reason = in.Reason
	esc.Status = domain.EscrowStatusRefunded
	esc.UpdatedAt = now
	product.Status = domain.ProductStatusActive
	product.Reservation = nil
	product.UpdatedAt = now

	return RefundPlan{
		Order:       order,
		Escrow:      esc,
		Product:     product,
		BuyerCredit: order.TotalGold,
	}, nil
}

// Credit зачисляет amount на кошелек, создавая его при отсутствии.
func Credit(w *domain.Wallet, ownerID string, amount int64, now time.Time) (domain.Wallet, error) {
	out := domain.Wallet{OwnerID: ownerID}
	if w != nil {
		out = *w
	}
	balance, err := domain.AddGold(out.Balance, amount)
	if err != nil {
		return domain.Wallet{}, failf(rpcerr.ReasonAmountOutOfRange,
			"wallet balance is out of range: balance=%d amount=%d", out.Balance, amount)
	}
	out.Balance = balance
	out.UpdatedAt = now
	return out, nil
}

type AdjustInput struct {
	TargetID string
	// Wallet nil, если кошелька нет.
	Wallet  *domain.Wallet
	Delta   int64
	ActorID string
	Reason  string
	Meta    map[string]any
	EntryID string
	Now     time.Time
}

type AdjustPlan struct {
	Wallet domain.Wallet
	Entry  domain.LedgerEntry
}

func PlanAdjust(in AdjustInput) (AdjustPlan, error) {
	if in.Delta == 0 {
		return AdjustPlan{}, rpcerr.InvalidArgument(rpcerr.ReasonInvalidDelta, "delta must be a non-zero integer")
	}
	if in.Wallet == nil && in.Delta < 0 {
		return AdjustPlan{}, fail(rpcerr.ReasonNegativeBalance, "cannot debit a wallet that does not exist")
	}

	w, err := Credit(in.Wallet, in.TargetID, in.Delta, in.Now)
	if err != nil {
		return AdjustPlan{}, err
	}
	if w.Balance < 0 {
		return AdjustPlan{}, failf(rpcerr.ReasonNegativeBalance,
			"adjustment would make balance negative: balance=%d delta=%d", w.Balance-in.Delta, in.Delta)
	}

	return AdjustPlan{
		Wallet: w,
		Entry: domain.LedgerEntry{
			ID:           in.EntryID,
			TargetID:     in.TargetID,
			ActorID:      in.ActorID,
			AmountDelta:  in.Delta,
			Reason:       in.Reason,
			Metadata:     in.Meta,
			BalanceAfter: w.Balance,
			CreatedAt:    in.Now,
		},
	}, nil
}

func orderSeller(o *domain.Order) string {
	if o == nil {
		return ""
	}
	return o.SellerID
}

func orderBuyer(o *domain.Order) string {
	if o == nil {
		return ""
	}
	return o.BuyerID
}
