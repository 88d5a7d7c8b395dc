package pgrepo

import (
	"fmt"

	"github.com/fsdevblog/escrow-gateway/internal/repository/repoargs"
	"github.com/fsdevblog/escrow-gateway/pkg/uow"
)

// NewRegistry реестр фабрик репозиториев реляционного бекенда.
func NewRegistry() (*uow.Registry, error) {
	registry := uow.NewRegistry()

	// wallet repo
	walletRepoFactoryFn := func(dbtx uow.DBTX) uow.Repository {
		return NewWalletRepository(dbtx)
	}
	if regErr := registry.Register(uow.RepositoryName(repoargs.WalletRepoName), walletRepoFactoryFn); regErr != nil {
		return nil, fmt.Errorf("init repository registry: %s", regErr.Error())
	}

	// ledger repo
	ledgerRepoFactoryFn := func(dbtx uow.DBTX) uow.Repository {
		return NewLedgerRepository(dbtx)
	}
	if regErr := registry.Register(uow.RepositoryName(repoargs.LedgerRepoName), ledgerRepoFactoryFn); regErr != nil {
		return nil, fmt.Errorf("init repository registry: %s", regErr.Error())
	}

	return registry, nil
}
