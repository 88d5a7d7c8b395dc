package domain

import (
	"time"
)

type Product struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	PriceGold   int64             `json:"price"`
	Status      ProductStatusType `json:"status"`
	SellerID    string            `json:"sellerId"`
	SellerType  string            `json:"sellerType"`
	Reservation *Reservation      `json:"reservation,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Reservation метаданные резерва товара под конкретный заказ.
type Reservation struct {
	OrderID    string    `json:"orderId"`
	BuyerID    string    `json:"buyerId"`
	ReservedAt time.Time `json:"reservedAt"`
}

type Order struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"productId"`
	BuyerID        string          `json:"buyerId"`
	SellerID       string          `json:"sellerId"`
	PriceGold      int64           `json:"priceGold"`
	CommissionGold int64           `json:"commissionGold"`
	TotalGold      int64           `json:"totalGold"`
	Status         OrderStatusType `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	CanceledAt     *time.Time      `json:"canceledAt,omitempty"`
}

// Escrow всегда один к одному с Order и хранится под тем же ID.
type Escrow struct {
	OrderID    string           `json:"orderId"`
	AmountGold int64            `json:"amountGold"`
	Status     EscrowStatusType `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

type Wallet struct {
	OwnerID     string    `json:"ownerId"`
	Balance     int64     `json:"balance"`
	PendingGold int64     `json:"pendingGold"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type LedgerEntry struct {
	ID           string         `json:"id"`
	TargetID     string         `json:"targetId"`
	ActorID      string         `json:"actorId"`
	AmountDelta  int64          `json:"amountDelta"`
	Reason       string         `json:"reason,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	BalanceAfter int64          `json:"balanceAfter"`
	CreatedAt    time.Time      `json:"createdAt"`
}
