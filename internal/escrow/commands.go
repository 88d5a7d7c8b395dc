package escrow

import (
	"errors"

	"github.com/fsdevblog/escrow-gateway/internal/authz"
	"github.com/fsdevblog/escrow-gateway/internal/domain"
)

var ErrOverrideWithoutGrant = errors.New("[escrow] admin override requires an admin grant")

// Override покупка от имени другого покупателя. Создается только из AdminGrant.
type Override struct {
	grant   *authz.AdminGrant
	buyerID string
}

func NewOverride(grant *authz.AdminGrant, buyerID string) (*Override, error) {
	if grant == nil {
		return nil, ErrOverrideWithoutGrant
	}
	return &Override{grant: grant, buyerID: buyerID}, nil
}

type LockCommand struct {
	ProductID string
	CallerID  string
	Override  *Override
}

// BuyerID покупатель, чей кошелек списывается: указанный в override или сам вызывающий.
func (c LockCommand) BuyerID() string {
	if c.Override != nil && c.Override.buyerID != "" {
		return c.Override.buyerID
	}
	return c.CallerID
}

// ActorID кто фактически выполняет блокировку.
func (c LockCommand) ActorID() string {
	if c.Override != nil {
		return c.Override.grant.ActorID()
	}
	return c.CallerID
}

// SettleCommand выпуск или возврат средств по заказу.
type SettleCommand struct {
	OrderID string
	ActorID string
	// Admin nil, если вызывающий не администратор.
	Admin  *authz.AdminGrant
	Reason string
}

type AdjustCommand struct {
	TargetID string
	Delta    int64
	Reason   string
	Metadata map[string]any
	Admin    *authz.AdminGrant
}

type LockResult struct {
	OrderID        string                 `json:"orderId"`
	ProductID      string                 `json:"productId"`
	PriceGold      int64                  `json:"priceGold"`
	CommissionGold int64                  `json:"commissionGold"`
	TotalGold      int64                  `json:"totalGold"`
	Status         domain.OrderStatusType `json:"status"`
	BalanceAfter   int64                  `json:"balanceAfter"`
}

type SettleResult struct {
	OrderID       string                   `json:"orderId"`
	Status        domain.OrderStatusType   `json:"status"`
	EscrowStatus  domain.EscrowStatusType  `json:"escrowStatus"`
	ProductStatus domain.ProductStatusType `json:"productStatus"`
}

type AdjustResult struct {
	TargetID      string `json:"targetId"`
	Balance       int64  `json:"balance"`
	Delta         int64  `json:"delta"`
	LedgerEntryID string `json:"ledgerEntryId"`
}
