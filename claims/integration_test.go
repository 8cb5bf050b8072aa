//go:build integration

package claims_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/veritahealth/adjudicator/claims"
)

// setupTestDB starts a PostgreSQL container and applies the schema.
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "claims_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=claims_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			if err = db.Ping(); err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}

	cleanup := func() {
		db.Close()
		container.Terminate(ctx)
	}
	return db, cleanup
}

func pgClaim(id string) *claims.Claim {
	return &claims.Claim{
		ID:              id,
		EnrolleeID:      "enr-1",
		EnrolleeName:    "Ada Obi",
		ProviderID:      "prov-1",
		ProviderName:    "St. Mary Hospital",
		PaymentAccount:  "0123456789",
		DiagnosisCode:   "J06.9",
		Diagnosis:       "Acute upper respiratory infection",
		SubmittedAmount: 45000,
		VettedAmount:    45000,
		Status:          claims.StatusPendingReview,
		PaymentStatus:   claims.PaymentUnpaid,
		Lines: []claims.TreatmentLine{
			{Service: "Consultation", UnitPrice: 5000, Quantity: 1},
			{Service: "IV Fluids", UnitPrice: 10000, Quantity: 4},
		},
		Advisory: &claims.Advisory{
			Score:           82,
			Flags:           []string{"HIGH_AMOUNT"},
			Recommendation:  claims.RecommendApprove,
			Confidence:      1.0,
			SuggestedAmount: 45000,
			Reasoning:       "matched: amount check",
		},
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := claims.NewPostgresClaimStore(db)

	if err := store.Create(pgClaim("c-1")); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	got, err := store.Get("c-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.EnrolleeName != "Ada Obi" || got.SubmittedAmount != 45000 {
		t.Errorf("claim fields lost on round trip: %+v", got)
	}
	if len(got.Lines) != 2 || got.Lines[1].Total() != 40000 {
		t.Errorf("treatment lines lost on round trip: %+v", got.Lines)
	}
	if got.Advisory == nil || got.Advisory.Score != 82 || len(got.Advisory.Flags) != 1 {
		t.Errorf("advisory lost on round trip: %+v", got.Advisory)
	}
	if got.Locked() {
		t.Error("unlocked claim should round-trip as unlocked")
	}
}

func TestPostgresStoreNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := claims.NewPostgresClaimStore(db)

	if _, err := store.Get("missing"); !errors.Is(err, claims.ErrNotFound) {
		t.Errorf("Get() on unknown ID should return ErrNotFound, got %v", err)
	}
	if err := store.Update(pgClaim("missing")); !errors.Is(err, claims.ErrNotFound) {
		t.Errorf("Update() on unknown ID should return ErrNotFound, got %v", err)
	}
	if _, err := store.AuditLog("missing"); !errors.Is(err, claims.ErrNotFound) {
		t.Errorf("AuditLog() on unknown ID should return ErrNotFound, got %v", err)
	}
}

func TestPostgresStoreUpdateWithAudit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := claims.NewPostgresClaimStore(db)
	if err := store.Create(pgClaim("c-1")); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	c, _ := store.Get("c-1")
	c.Status = claims.StatusUnderReview
	c.LockHolder = "rev-1"
	c.LockHolderName = "Ngozi Eze"
	c.LockedAt = time.Now()

	entry := &claims.AuditEntry{
		Action:    claims.ActionReviewStarted,
		ActorID:   "rev-1",
		ActorName: "Ngozi Eze",
		ActorRole: claims.RoleClaimsOfficer,
		Notes:     "Ngozi Eze started claims review",
	}
	if err := store.Update(c, entry); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, _ := store.Get("c-1")
	if got.Status != claims.StatusUnderReview || got.LockHolder != "rev-1" {
		t.Errorf("update lost on round trip: %+v", got)
	}
	if got.LockedAt.IsZero() {
		t.Error("locked_at should round-trip")
	}

	log, err := store.AuditLog("c-1")
	if err != nil {
		t.Fatalf("AuditLog() failed: %v", err)
	}
	if len(log) != 1 || log[0].Seq != 1 || log[0].Action != claims.ActionReviewStarted {
		t.Errorf("audit log = %+v, want one review-started entry with seq 1", log)
	}
}

func TestPostgresStoreList(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := claims.NewPostgresClaimStore(db)
	for i := 1; i <= 3; i++ {
		c := pgClaim(fmt.Sprintf("c-%d", i))
		if i == 3 {
			c.ProviderID = "prov-2"
			c.Status = claims.StatusApproved
			c.BatchID = "B1"
		}
		if err := store.Create(c); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}

	pending, err := store.List(claims.ClaimFilter{Status: claims.StatusPendingReview})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("List(pending) returned %d claims, want 2", len(pending))
	}

	batched, _ := store.List(claims.ClaimFilter{BatchID: "B1"})
	if len(batched) != 1 || batched[0].ID != "c-3" {
		t.Errorf("List(batch) = %+v, want just c-3", batched)
	}
}

// The full engine against a real Postgres store.
func TestEngineOnPostgres(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	en := claims.NewEngine(claims.NewPostgresClaimStore(db), nil)
	en.OpenBatch("B1")

	officer := claims.Actor{ID: "rev-1", Name: "Ngozi Eze", Role: claims.RoleClaimsOfficer}
	medical := claims.Actor{ID: "rev-2", Name: "Dr. Okafor", Role: claims.RoleMedicalReviewer}

	if _, err := en.Submit(pgClaim("c-1")); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if _, err := en.AcquireReview("c-1", officer); err != nil {
		t.Fatalf("AcquireReview() failed: %v", err)
	}
	if _, err := en.AdjustAmount("c-1", officer, 42000, "reduced IV fluids"); err != nil {
		t.Fatalf("AdjustAmount() failed: %v", err)
	}
	if _, err := en.ForwardToMedicalReview("c-1", officer, "needs clinical opinion"); err != nil {
		t.Fatalf("ForwardToMedicalReview() failed: %v", err)
	}
	if _, err := en.AcquireReview("c-1", medical); err != nil {
		t.Fatalf("AcquireReview() failed: %v", err)
	}
	c, err := en.Approve("c-1", medical, "confirmed")
	if err != nil {
		t.Fatalf("Approve() failed: %v", err)
	}
	if c.Status != claims.StatusApproved || c.BatchID != "B1" || c.VettedAmount != 42000 {
		t.Errorf("final claim = %+v, want approved into B1 at 42000", c)
	}

	log, _ := en.AuditTrail("c-1")
	if len(log) != 5 {
		t.Errorf("audit log length = %d, want 5", len(log))
	}

	summary, err := en.SummarizeBatch("B1")
	if err != nil {
		t.Fatalf("SummarizeBatch() failed: %v", err)
	}
	if summary.VettedTotal != 42000 {
		t.Errorf("batch vetted total = %d, want 42000", summary.VettedTotal)
	}
}
