package adapters

import (
	"context"
	"strings"

	"github.com/mycelian/cockpit/internal/adapters/upstream"
	"github.com/mycelian/cockpit/internal/model"
)

// Query is what every adapter is asked for: one user's wallets in scope.
// AllWallets asks upstreams for every wallet they know for the user, which is
// how background jobs query without a session.
type Query struct {
	UserID     string
	Wallets    []model.Wallet
	AllWallets bool
}

// Addresses returns the wallet addresses of q.
func (q Query) Addresses() []string {
	out := make([]string, len(q.Wallets))
	for i, w := range q.Wallets {
		out[i] = w.Address
	}
	return out
}

// InScope reports whether a record for wallet belongs to q. Records without a
// wallet are user-level and always in scope.
func (q Query) InScope(wallet string) bool {
	if wallet == "" || q.AllWallets {
		return true
	}
	for _, w := range q.Wallets {
		if strings.EqualFold(w.Address, wallet) {
			return true
		}
	}
	return false
}

// Source fetches native records from one upstream subsystem.
type Source interface {
	Kind() model.SourceKind
	Fetch(ctx context.Context, q Query) ([]Record, error)
}

// Resources maps each source kind to its upstream collection path.
var Resources = map[model.SourceKind]string{
	model.SourceGuardian:    "/v1/findings",
	model.SourceOpportunity: "/v1/opportunities",
	model.SourcePortfolio:   "/v1/deltas",
	model.SourceWorkflow:    "/v1/items",
	model.SourceProof:       "/v1/receipts",
}

type httpSource[T Record] struct {
	kind   model.SourceKind
	client *upstream.Client
}

func (s *httpSource[T]) Kind() model.SourceKind { return s.kind }

func (s *httpSource[T]) Fetch(ctx context.Context, q Query) ([]Record, error) {
	var rows []T
	if err := s.client.GetJSON(ctx, Resources[s.kind], upstream.WalletQuery(q.UserID, q.Addresses()), &rows); err != nil {
		return nil, err
	}
	out := make([]Record, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

// Clients holds one upstream client per source.
type Clients struct {
	Security    *upstream.Client
	Opportunity *upstream.Client
	Portfolio   *upstream.Client
	Workflow    *upstream.Client
	Proof       *upstream.Client
}

// HTTPSources builds the five HTTP-backed sources.
func HTTPSources(c Clients) []Source {
	return []Source{
		&httpSource[SecurityFinding]{kind: model.SourceGuardian, client: c.Security},
		&httpSource[Opportunity]{kind: model.SourceOpportunity, client: c.Opportunity},
		&httpSource[PortfolioDelta]{kind: model.SourcePortfolio, client: c.Portfolio},
		&httpSource[WorkflowItem]{kind: model.SourceWorkflow, client: c.Workflow},
		&httpSource[ProofReceipt]{kind: model.SourceProof, client: c.Proof},
	}
}
