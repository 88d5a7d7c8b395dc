package domain

type ProductStatusType string

const (
	ProductStatusActive   ProductStatusType = "ACTIVE"
	ProductStatusReserved ProductStatusType = "RESERVED"
	ProductStatusSold     ProductStatusType = "SOLD"
)

type OrderStatusType string

const (
	OrderStatusPending   OrderStatusType = "PENDING"
	OrderStatusCompleted OrderStatusType = "COMPLETED"
	OrderStatusCanceled  OrderStatusType = "CANCELED"
)

type EscrowStatusType string

const (
	EscrowStatusLocked   EscrowStatusType = "LOCKED"
	EscrowStatusReleased EscrowStatusType = "RELEASED"
	EscrowStatusRefunded EscrowStatusType = "REFUNDED"
)

// IsTerminal сообщает, что заказ уже закрыт выпуском или возвратом средств.
func (s OrderStatusType) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCanceled
}
