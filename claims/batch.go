package claims

import (
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// ProviderGroup is the per-provider rollup inside a batch summary.
type ProviderGroup struct {
	ProviderID     string   `json:"providerId"`
	ProviderName   string   `json:"providerName"`
	PaymentAccount string   `json:"paymentAccount,omitempty"`
	EncounterCount int      `json:"encounterCount"`
	SubmittedTotal int64    `json:"submittedTotal"`
	VettedTotal    int64    `json:"vettedTotal"`
	ClaimIDs       []string `json:"claimIds"`
}

// BatchSummary is the payment view of one batch: approved claims
// grouped by payee, with batch-wide totals.
type BatchSummary struct {
	BatchID        string          `json:"batchId"`
	Providers      []ProviderGroup `json:"providers"`
	EncounterCount int             `json:"encounterCount"`
	SubmittedTotal int64           `json:"submittedTotal"`
	VettedTotal    int64           `json:"vettedTotal"`
	GeneratedAt    time.Time       `json:"generatedAt"`
}

// SummarizeBatch scans the approved claims assigned to the batch and
// groups them by provider. Providers are ordered by provider ID so the
// summary is deterministic for any claim set.
func (en *Engine) SummarizeBatch(batchID string) (*BatchSummary, error) {
	members, err := en.store.List(ClaimFilter{Status: StatusApproved, BatchID: batchID})
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}

	groups := make(map[string]*ProviderGroup)
	summary := &BatchSummary{
		BatchID:     batchID,
		GeneratedAt: time.Now(),
	}

	for _, c := range members {
		g, exists := groups[c.ProviderID]
		if !exists {
			g = &ProviderGroup{
				ProviderID:     c.ProviderID,
				ProviderName:   c.ProviderName,
				PaymentAccount: c.PaymentAccount,
			}
			groups[c.ProviderID] = g
		}
		g.EncounterCount++
		g.SubmittedTotal += c.SubmittedAmount
		g.VettedTotal += c.VettedAmount
		g.ClaimIDs = append(g.ClaimIDs, c.ID)

		summary.EncounterCount++
		summary.SubmittedTotal += c.SubmittedAmount
		summary.VettedTotal += c.VettedAmount
	}

	summary.Providers = make([]ProviderGroup, 0, len(groups))
	for _, g := range groups {
		sort.Strings(g.ClaimIDs)
		summary.Providers = append(summary.Providers, *g)
	}
	sort.Slice(summary.Providers, func(i, j int) bool {
		return summary.Providers[i].ProviderID < summary.Providers[j].ProviderID
	})

	return summary, nil
}

// ExportBatch serializes the batch summary for the downstream payment
// processor. The ordering inherited from SummarizeBatch makes the
// payload stable for the same batch contents.
func (en *Engine) ExportBatch(batchID string) ([]byte, error) {
	summary, err := en.SummarizeBatch(batchID)
	if err != nil {
		return nil, err
	}

	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch %s: %w", batchID, err)
	}
	return payload, nil
}
