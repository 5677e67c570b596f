package shared

import "fmt"

// AccountLockKey builds redis keys guarding per-account posting critical sections.
func AccountLockKey(accountID int64) string {
	return fmt.Sprintf("ledger:account:%d:lock", accountID)
}
