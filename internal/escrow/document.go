package escrow

import (
	"context"

	"github.com/fsdevblog/escrow-gateway/internal/docstore"
	"github.com/fsdevblog/escrow-gateway/internal/domain"
	"github.com/fsdevblog/escrow-gateway/internal/gateway"
)

// Коллекции хранилища документов.
const (
	CollProducts = "products"
	CollOrders   = "orders"
	CollEscrows  = "escrows"
	CollWallets  = "wallets"
	CollLedger   = "ledger"

	// CollLedgerIndex идентификаторы последних записей журнала кошелька, новые первыми.
	CollLedgerIndex = "ledger_index"
)

// LedgerIndexLimit сколько последних записей журнала помнит индекс кошелька.
const LedgerIndexLimit = 100

type LedgerIndex struct {
	EntryIDs []string `json:"entryIds"`
}

// DocumentBackend путь исполнения через хранилище документов. Пул соединений не используется.
// Тела транзакций только читают и пишут документы: при конфликте они выполняются повторно.
type DocumentBackend struct {
	store    *docstore.Store
	settings Settings
}

func NewDocumentBackend(store *docstore.Store, settings Settings) *DocumentBackend {
	return &DocumentBackend{store: store, settings: settings.withDefaults()}
}

func (b *DocumentBackend) Name() string {
	return "docstore"
}

func (b *DocumentBackend) Lock(ctx context.Context, _ *gateway.Session, cmd LockCommand) (LockResult, error) {
	// идентификатор и время фиксируются до транзакции, чтобы повтор тела давал тот же заказ.
	orderID, now := b.settings.NewID(), b.settings.Now()
	buyerID := cmd.BuyerID()

	var plan LockPlan
	err := b.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		product, err := getDoc[domain.Product](tx, CollProducts, cmd.ProductID)
		if err != nil {
			return err
		}
		buyer, err := getDoc[domain.Wallet](tx, CollWallets, buyerID)
		if err != nil {
			return err
		}

		plan, err = PlanLock(LockInput{
			ProductID: cmd.ProductID,
			Product:   product,
			BuyerID:   buyerID,
			Buyer:     buyer,
			OrderID:   orderID,
			Rate:      b.settings.Rate,
			Now:       now,
		})
		if err != nil {
			return err
		}
		return setDocs(tx,
			doc{CollOrders, plan.Order.ID, plan.Order},
			doc{CollEscrows, plan.Escrow.OrderID, plan.Escrow},
			doc{CollWallets, plan.Buyer.OwnerID, plan.Buyer},
			doc{CollProducts, plan.Product.ID, plan.Product},
		)
	})
	if err != nil {
		return LockResult{}, err
	}

	return LockResult{
		OrderID:        plan.Order.ID,
		ProductID:      plan.Order.ProductID,
		PriceGold:      plan.Order.PriceGold,
		CommissionGold: plan.Order.CommissionGold,
		TotalGold:      plan.Order.TotalGold,
		Status:         plan.Order.Status,
		BalanceAfter:   plan.Buyer.Balance,
	}, nil
}

func (b *DocumentBackend) Release(ctx context.Context, _ *gateway.Session, cmd SettleCommand) (SettleResult, error) {
	now := b.settings.Now()
	var plan ReleasePlan
	err := b.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		in, err := b.loadSettle(tx, cmd)
		if err != nil {
			return err
		}
		in.Now = now
		if plan, err = PlanRelease(in); err != nil {
			return err
		}

		seller, err := getDoc[domain.Wallet](tx, CollWallets, plan.Order.SellerID)
		if err != nil {
			return err
		}
		sellerAfter, err := Credit(seller, plan.Order.SellerID, plan.SellerCredit, now)
		if err != nil {
			return err
		}
		if err = tx.Set(CollWallets, sellerAfter.OwnerID, sellerAfter); err != nil {
			return err
		}
		// Кошелек платформы читается после записи продавца: если это один кошелек, зачисления складываются.
		platform, err := getDoc[domain.Wallet](tx, CollWallets, b.settings.PlatformWalletID)
		if err != nil {
			return err
		}
		platformAfter, err := Credit(platform, b.settings.PlatformWalletID, plan.PlatformCredit, now)
		if err != nil {
			return err
		}

		return setDocs(tx,
			doc{CollOrders, plan.Order.ID, plan.Order},
			doc{CollEscrows, plan.Escrow.OrderID, plan.Escrow},
			doc{CollProducts, plan.Product.ID, plan.Product},
			doc{CollWallets, platformAfter.OwnerID, platformAfter},
		)
	})
	if err != nil {
		return SettleResult{}, err
	}
	return settleResult(plan.Order, plan.Escrow, plan.Product), nil
}

func (b *DocumentBackend) Refund(ctx context.Context, _ *gateway.Session, cmd SettleCommand) (SettleResult, error) {
	now := b.settings.Now()
	var plan RefundPlan
	err := b.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		in, err := b.loadSettle(tx, cmd)
		if err != nil {
			return err
		}
		in.Now = now
		if plan, err = PlanRefund(in); err != nil {
			return err
		}

		buyer, err := getDoc[domain.Wallet](tx, CollWallets, plan.Order.BuyerID)
		if err != nil {
			return err
		}
		buyerAfter, err := Credit(buyer, plan.Order.BuyerID, plan.BuyerCredit, now)
		if err != nil {
			return err
		}

		return setDocs(tx,
			doc{CollOrders, plan.Order.ID, plan.Order},
			doc{CollEscrows, plan.Escrow.OrderID, plan.Escrow},
			doc{CollProducts, plan.Product.ID, plan.Product},
			doc{CollWallets, buyerAfter.OwnerID, buyerAfter},
		)
	})
	if err != nil {
		return SettleResult{}, err
	}
	return settleResult(plan.Order, plan.Escrow, plan.Product), nil
}

func (b *DocumentBackend) Adjust(ctx context.Context, _ *gateway.Session, cmd AdjustCommand) (AdjustResult, error) {
	entryID, now := b.settings.NewID(), b.settings.Now()
	var plan AdjustPlan
	err := b.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		wallet, err := getDoc[domain.Wallet](tx, CollWallets, cmd.TargetID)
		if err != nil {
			return err
		}
		index, err := getDoc[LedgerIndex](tx, CollLedgerIndex, cmd.TargetID)
		if err != nil {
			return err
		}
		plan, err = PlanAdjust(AdjustInput{
			TargetID: cmd.TargetID,
			Wallet:   wallet,
			Delta:    cmd.Delta,
			ActorID:  cmd.Admin.ActorID(),
			Reason:   cmd.Reason,
			Meta:     cmd.Metadata,
			EntryID:  entryID,
			Now:      now,
		})
		if err != nil {
			return err
		}
		return setDocs(tx,
			doc{CollWallets, plan.Wallet.OwnerID, plan.Wallet},
			doc{CollLedger, plan.Entry.ID, plan.Entry},
			doc{CollLedgerIndex, plan.Wallet.OwnerID, prependEntry(index, plan.Entry.ID)},
		)
	})
	if err != nil {
		return AdjustResult{}, err
	}
	return AdjustResult{
		TargetID:      plan.Wallet.OwnerID,
		Balance:       plan.Wallet.Balance,
		Delta:         plan.Entry.AmountDelta,
		LedgerEntryID: plan.Entry.ID,
	}, nil
}

func (b *DocumentBackend) loadSettle(tx *docstore.Tx, cmd SettleCommand) (SettleInput, error) {
	in := SettleInput{ActorID: cmd.ActorID, Admin: cmd.Admin, Reason: cmd.Reason}
	var err error
	if in.Order, err = getDoc[domain.Order](tx, CollOrders, cmd.OrderID); err != nil || in.Order == nil {
		return in, err
	}
	if in.Escrow, err = getDoc[domain.Escrow](tx, CollEscrows, cmd.OrderID); err != nil {
		return in, err
	}
	in.Product, err = getDoc[domain.Product](tx, CollProducts, in.Order.ProductID)
	return in, err
}

func prependEntry(index *LedgerIndex, id string) LedgerIndex {
	ids := []string{id}
	if index != nil {
		ids = append(ids, index.EntryIDs...)
	}
	if len(ids) > LedgerIndexLimit {
		ids = ids[:LedgerIndexLimit]
	}
	return LedgerIndex{EntryIDs: ids}
}

func settleResult(o domain.Order, e domain.Escrow, p domain.Product) SettleResult {
	return SettleResult{OrderID: o.ID, Status: o.Status, EscrowStatus: e.Status, ProductStatus: p.Status}
}

type doc struct {
	collection string
	id         string
	value      any
}

func setDocs(tx *docstore.Tx, docs ...doc) error {
	for _, d := range docs {
		if err := tx.Set(d.collection, d.id, d.value); err != nil {
			return err
		}
	}
	return nil
}

// getDoc nil без ошибки, если документа нет.
func getDoc[T any](tx *docstore.Tx, collection, id string) (*T, error) {
	var v T
	found, err := tx.Get(collection, id, &v)
	if err != nil || !found {
		return nil, err
	}
	return &v, nil
}
