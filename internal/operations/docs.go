package operations

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fsdevblog/escrow-gateway/internal/docstore"
	"github.com/fsdevblog/escrow-gateway/internal/domain"
	"github.com/fsdevblog/escrow-gateway/internal/escrow"
	"github.com/fsdevblog/escrow-gateway/internal/gateway"
)

// Чтения из хранилища документов собирают *gateway.Result с теми же колонками, что и процедуры,
// поэтому преобразование результата у путей общее.

func walletDocument(ctx context.Context, docs *docstore.Store, ownerID string, limit int) (*gateway.Result, error) {
	var w domain.Wallet
	found, err := docs.Get(ctx, escrow.CollWallets, ownerID, &w)
	if err != nil || !found {
		return emptyResult(), err //nolint:wrapcheck
	}

	var index escrow.LedgerIndex
	if _, err = docs.Get(ctx, escrow.CollLedgerIndex, ownerID, &index); err != nil {
		return nil, err //nolint:wrapcheck
	}
	ids := index.EntryIDs
	if len(ids) > limit {
		ids = ids[:limit]
	}
	entries := make([]domain.LedgerEntry, 0, len(ids))
	for _, id := range ids {
		var e domain.LedgerEntry
		ok, getErr := docs.Get(ctx, escrow.CollLedger, id, &e)
		if getErr != nil {
			return nil, getErr //nolint:wrapcheck
		}
		if ok {
			entries = append(entries, e)
		}
	}
	ledger, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode recent ledger: %w", err)
	}

	return singleRow(gateway.Row{
		"owner_id":      w.OwnerID,
		"balance":       w.Balance,
		"pending_gold":  w.PendingGold,
		"updated_at":    w.UpdatedAt,
		"recent_ledger": ledger,
	}), nil
}

func orderDocument(ctx context.Context, docs *docstore.Store, orderID string) (*gateway.Result, error) {
	var o domain.Order
	found, err := docs.Get(ctx, escrow.CollOrders, orderID, &o)
	if err != nil || !found {
		return emptyResult(), err //nolint:wrapcheck
	}
	var e domain.Escrow
	if found, err = docs.Get(ctx, escrow.CollEscrows, orderID, &e); err != nil || !found {
		return emptyResult(), err //nolint:wrapcheck
	}
	var p domain.Product
	if _, err = docs.Get(ctx, escrow.CollProducts, o.ProductID, &p); err != nil {
		return nil, err //nolint:wrapcheck
	}

	// резерв показывается только пока он принадлежит этому заказу.
	var reservation any
	if p.Reservation != nil && p.Reservation.OrderID == o.ID {
		raw, marshalErr := json.Marshal(p.Reservation)
		if marshalErr != nil {
			return nil, fmt.Errorf("encode reservation: %w", marshalErr)
		}
		reservation = raw
	}

	return singleRow(gateway.Row{
		"id":              o.ID,
		"product_id":      o.ProductID,
		"buyer_id":        o.BuyerID,
		"seller_id":       o.SellerID,
		"price_gold":      o.PriceGold,
		"commission_gold": o.CommissionGold,
		"total_gold":      o.TotalGold,
		"status":          string(o.Status),
		"reason":          o.Reason,
		"created_at":      o.CreatedAt,
		"completed_at":    timeOrNil(o.CompletedAt),
		"canceled_at":     timeOrNil(o.CanceledAt),
		"escrow_status":   string(e.Status),
		"escrow_amount":   e.AmountGold,
		"reservation":     reservation,
	}), nil
}

func singleRow(row gateway.Row) *gateway.Result {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	return &gateway.Result{
		Recordsets:   []gateway.Recordset{{Columns: cols, Rows: []map[string]any{row}}},
		Output:       row,
		RowsAffected: 1,
	}
}

func emptyResult() *gateway.Result {
	return &gateway.Result{Recordsets: []gateway.Recordset{{}}}
}

func timeOrNil[T any](t *T) any {
	if t == nil {
		return nil
	}
	return *t
}
