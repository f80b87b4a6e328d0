package upstream

import (
	"context"
	"net/url"
	"time"
)

// ScanStatus is one wallet/chain scan record from the security scanner.
type ScanStatus struct {
	Wallet          string     `json:"wallet"`
	Chain           string     `json:"chain"`
	LastCompletedAt *time.Time `json:"last_completed_at"`
}

// ProviderStatus is one chain's data-provider health sample.
type ProviderStatus struct {
	Chain         string `json:"chain"`
	Status        string `json:"status"` // online | degraded | offline
	P95Millis     int    `json:"p95_ms"`
	IndexerLagSec int    `json:"indexer_lag_sec"`
}

// WalletQuery builds the common user/wallet query.
func WalletQuery(userID string, wallets []string) url.Values {
	q := url.Values{}
	q.Set("user_id", userID)
	for _, w := range wallets {
		q.Add("wallet", w)
	}
	return q
}

// ScanStatus reads scan completion per wallet and chain.
func (c *Client) ScanStatus(ctx context.Context, userID string, wallets []string) ([]ScanStatus, error) {
	var out []ScanStatus
	if err := c.GetJSON(ctx, "/v1/scans/status", WalletQuery(userID, wallets), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProviderStatus reads the current provider sample for every chain.
func (c *Client) ProviderStatus(ctx context.Context) ([]ProviderStatus, error) {
	var out []ProviderStatus
	if err := c.GetJSON(ctx, "/v1/providers/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
