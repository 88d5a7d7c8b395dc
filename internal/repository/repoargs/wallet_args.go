package repoargs

// WalletSave новое состояние кошелька после корректировки.
type WalletSave struct {
	OwnerID string
	Balance int64
}
