package claims

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
)

func submitProviderClaim(t *testing.T, en *Engine, id, providerID, providerName string, amount int64) {
	t.Helper()
	if _, err := en.Submit(&Claim{
		ID:           id,
		EnrolleeID:   "enr-" + id,
		ProviderID:   providerID,
		ProviderName: providerName,
		Lines:        []TreatmentLine{{Service: "Treatment", UnitPrice: amount, Quantity: 1}},
	}); err != nil {
		t.Fatalf("Submit(%s) failed: %v", id, err)
	}
}

func approveClaim(t *testing.T, en *Engine, id string, vetted int64) {
	t.Helper()
	if _, err := en.AcquireReview(id, officer); err != nil {
		t.Fatalf("AcquireReview(%s) failed: %v", id, err)
	}
	if vetted >= 0 {
		if _, err := en.AdjustAmount(id, officer, vetted, "vetting"); err != nil {
			t.Fatalf("AdjustAmount(%s) failed: %v", id, err)
		}
	}
	if _, err := en.Approve(id, officer, "verified"); err != nil {
		t.Fatalf("Approve(%s) failed: %v", id, err)
	}
}

// Two approved claims from different providers in one batch produce
// two provider groups with the expected vetted sums and batch total.
func TestSummarizeBatchTwoProviders(t *testing.T) {
	en := newTestEngine()
	en.OpenBatch("B1")

	submitProviderClaim(t, en, "c-1", "prov-1", "St. Mary Hospital", 45000)
	submitProviderClaim(t, en, "c-2", "prov-2", "Lakeshore Clinic", 28500)
	approveClaim(t, en, "c-1", 42000)
	approveClaim(t, en, "c-2", -1) // no adjustment, vetted stays 28500

	summary, err := en.SummarizeBatch("B1")
	if err != nil {
		t.Fatalf("SummarizeBatch() failed: %v", err)
	}

	if len(summary.Providers) != 2 {
		t.Fatalf("provider groups = %d, want 2", len(summary.Providers))
	}
	if summary.Providers[0].ProviderID != "prov-1" || summary.Providers[1].ProviderID != "prov-2" {
		t.Errorf("providers must be ordered by ID, got %s then %s",
			summary.Providers[0].ProviderID, summary.Providers[1].ProviderID)
	}
	if summary.Providers[0].VettedTotal != 42000 {
		t.Errorf("prov-1 vetted total = %d, want 42000", summary.Providers[0].VettedTotal)
	}
	if summary.Providers[1].VettedTotal != 28500 {
		t.Errorf("prov-2 vetted total = %d, want 28500", summary.Providers[1].VettedTotal)
	}
	if summary.VettedTotal != 70500 {
		t.Errorf("batch vetted total = %d, want 70500", summary.VettedTotal)
	}
	if summary.EncounterCount != 2 {
		t.Errorf("encounter count = %d, want 2", summary.EncounterCount)
	}
}

func TestSummarizeBatchGroupsByProvider(t *testing.T) {
	en := newTestEngine()
	en.OpenBatch("B1")

	submitProviderClaim(t, en, "c-1", "prov-1", "St. Mary Hospital", 10000)
	submitProviderClaim(t, en, "c-2", "prov-1", "St. Mary Hospital", 20000)
	submitProviderClaim(t, en, "c-3", "prov-2", "Lakeshore Clinic", 5000)
	for _, id := range []string{"c-1", "c-2", "c-3"} {
		approveClaim(t, en, id, -1)
	}

	summary, err := en.SummarizeBatch("B1")
	if err != nil {
		t.Fatalf("SummarizeBatch() failed: %v", err)
	}

	if len(summary.Providers) != 2 {
		t.Fatalf("provider groups = %d, want 2", len(summary.Providers))
	}
	g := summary.Providers[0]
	if g.EncounterCount != 2 || g.SubmittedTotal != 30000 || g.VettedTotal != 30000 {
		t.Errorf("prov-1 group = %+v, want 2 encounters totalling 30000", g)
	}
	if len(g.ClaimIDs) != 2 {
		t.Errorf("prov-1 claim list = %v, want 2 members", g.ClaimIDs)
	}
}

// The sum over provider groups equals the sum over all approved claims
// in the batch.
func TestSummarizeBatchTotalsRoundTrip(t *testing.T) {
	en := newTestEngine()
	en.OpenBatch("B1")

	amounts := []int64{12000, 8300, 45000, 700, 9900}
	providers := []string{"prov-1", "prov-2", "prov-1", "prov-3", "prov-2"}
	var want int64
	for i, a := range amounts {
		id := string(rune('a' + i))
		submitProviderClaim(t, en, id, providers[i], "Provider "+providers[i], a)
		approveClaim(t, en, id, -1)
		want += a
	}

	summary, err := en.SummarizeBatch("B1")
	if err != nil {
		t.Fatalf("SummarizeBatch() failed: %v", err)
	}

	var groupSum int64
	for _, g := range summary.Providers {
		groupSum += g.VettedTotal
	}
	if groupSum != want || summary.VettedTotal != want {
		t.Errorf("group sum = %d, batch total = %d, want %d", groupSum, summary.VettedTotal, want)
	}
}

func TestSummarizeBatchExcludesOtherClaims(t *testing.T) {
	en := newTestEngine()
	en.OpenBatch("B1")

	submitProviderClaim(t, en, "c-1", "prov-1", "St. Mary Hospital", 10000)
	approveClaim(t, en, "c-1", -1)

	// A pending claim and a claim approved into a different batch must
	// not appear.
	submitProviderClaim(t, en, "c-2", "prov-1", "St. Mary Hospital", 99999)
	en.OpenBatch("B2")
	submitProviderClaim(t, en, "c-3", "prov-1", "St. Mary Hospital", 50000)
	approveClaim(t, en, "c-3", -1)

	summary, err := en.SummarizeBatch("B1")
	if err != nil {
		t.Fatalf("SummarizeBatch() failed: %v", err)
	}
	if summary.EncounterCount != 1 || summary.VettedTotal != 10000 {
		t.Errorf("summary = %+v, want only c-1", summary)
	}
}

func TestSummarizeBatchNotFound(t *testing.T) {
	en := newTestEngine()

	if _, err := en.SummarizeBatch("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SummarizeBatch() on empty batch should fail ErrNotFound, got %v", err)
	}
}

func TestExportBatchDeterministic(t *testing.T) {
	en := newTestEngine()
	en.OpenBatch("B1")

	submitProviderClaim(t, en, "c-1", "prov-2", "Lakeshore Clinic", 28500)
	submitProviderClaim(t, en, "c-2", "prov-1", "St. Mary Hospital", 42000)
	approveClaim(t, en, "c-1", -1)
	approveClaim(t, en, "c-2", -1)

	payload, err := en.ExportBatch("B1")
	if err != nil {
		t.Fatalf("ExportBatch() failed: %v", err)
	}

	var decoded BatchSummary
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if decoded.BatchID != "B1" {
		t.Errorf("BatchID = %s, want B1", decoded.BatchID)
	}
	if len(decoded.Providers) != 2 || decoded.Providers[0].ProviderID != "prov-1" {
		t.Errorf("export providers must be ordered by ID, got %+v", decoded.Providers)
	}
	if decoded.VettedTotal != 70500 {
		t.Errorf("export vetted total = %d, want 70500", decoded.VettedTotal)
	}

	// Exporting again with unchanged contents yields identical provider
	// ordering and totals.
	second, err := en.ExportBatch("B1")
	if err != nil {
		t.Fatalf("second ExportBatch() failed: %v", err)
	}
	var decoded2 BatchSummary
	if err := json.Unmarshal(second, &decoded2); err != nil {
		t.Fatalf("second export is not valid JSON: %v", err)
	}
	for i := range decoded.Providers {
		if decoded.Providers[i].ProviderID != decoded2.Providers[i].ProviderID {
			t.Errorf("provider order differs between exports at index %d", i)
		}
	}
}
