// Package operations операции чтения: кошелек и заказ. Исполняются процедурой по умолчанию,
// а при выключенном реляционном шлюзе читают хранилище документов и собирают тот же результат.
package operations

import (
	"github.com/fsdevblog/escrow-gateway/internal/authz"
	"github.com/fsdevblog/escrow-gateway/internal/docstore"
	"github.com/fsdevblog/escrow-gateway/internal/gateway"
)

const (
	OpWalletGet = "wallet.get"
	OpOrderGet  = "order.get"
)

// Definitions операции чтения. docs nil означает реляционный путь.
func Definitions(az *authz.Authorizer, docs *docstore.Store) []*gateway.Definition {
	return []*gateway.Definition{walletDefinition(docs), orderDefinition(az, docs)}
}

func region(docs *docstore.Store) string {
	if docs != nil {
		return "docstore"
	}
	return "relational"
}
