package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that sets the balance for an account when using the in-memory ledger.
func SeedBalance(s Store, key AccountKey, amount decimal.Decimal) {
	if mem, ok := s.(*inMemoryStore); ok {
		r := mem.row(key)
		r.mu.Lock()
		defer r.mu.Unlock()
		r.balance = amount
		r.exists = true
	}
}

// Exists reports whether the in-memory ledger holds a row for key.
func Exists(s Store, key AccountKey) bool {
	mem, ok := s.(*inMemoryStore)
	if !ok {
		return false
	}
	mem.mu.Lock()
	r, ok := mem.rows[key]
	mem.mu.Unlock()
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exists
}
