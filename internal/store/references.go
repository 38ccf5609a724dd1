package store

import "fmt"

// Ledger references. They are unique in the ledger so the same mutation can
// never be applied twice.

func BetReference(betID string) string {
	return "bet:" + betID
}

func PayoutReference(betID string) string {
	return "payout:" + betID
}

func RefundReference(betID string) string {
	return "refund:" + betID
}

func CashbackReference(userID, day, target string) string {
	return fmt.Sprintf("cashback:%s:%s:%s", userID, day, target)
}
