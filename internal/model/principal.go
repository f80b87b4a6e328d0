package model

import "strings"

// Principal is the authenticated caller as asserted by the identity collaborator.
type Principal struct {
	UserID       string
	Wallets      []Wallet
	ActiveWallet string
}

// ScopeWallets resolves scope to the wallets it covers. An active scope requires the
// active wallet to be one of the caller's wallets; a caller with no wallets gets none.
func (p Principal) ScopeWallets(scope WalletScope) ([]Wallet, error) {
	if scope == ScopeAll || len(p.Wallets) == 0 {
		return p.Wallets, nil
	}
	for _, w := range p.Wallets {
		if p.ActiveWallet != "" && strings.EqualFold(w.Address, p.ActiveWallet) {
			return []Wallet{w}, nil
		}
	}
	return nil, ErrForbidden
}

// Chains returns the distinct lower-cased chains of wallets, in first-seen order.
func Chains(wallets []Wallet) []string {
	seen := make(map[string]bool, len(wallets))
	var out []string
	for _, w := range wallets {
		c := strings.ToLower(w.Chain)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
