package repoargs

type RepositoryName string

const (
	WalletRepoName RepositoryName = "wallet"
	LedgerRepoName RepositoryName = "ledger"
)
