package claims

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq"
)

// PostgresClaimStore implements ClaimStore backed by PostgreSQL.
// Treatment lines and advisory data live in JSONB columns; the audit
// trail is a separate append-only table keyed by (claim_id, seq).
type PostgresClaimStore struct {
	db *sql.DB
}

// NewPostgresClaimStore creates a PostgreSQL-backed claim store.
func NewPostgresClaimStore(db *sql.DB) *PostgresClaimStore {
	return &PostgresClaimStore{db: db}
}

const claimColumns = `id, pre_auth_code, enrollee_id, enrollee_name, enrollee_company,
	provider_id, provider_name, payment_account, diagnosis_code, diagnosis,
	submitted_amount, vetted_amount, lines, status, adjudicator,
	lock_holder, lock_holder_name, locked_at, batch_id, payment_status,
	advisory, created_at, updated_at`

// Create inserts a new claim.
func (s *PostgresClaimStore) Create(c *Claim) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM claims WHERE id = $1)
	`, c.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check claim existence: %w", err)
	}
	if exists {
		return fmt.Errorf("claim with ID %s already exists", c.ID)
	}

	lines, advisory, err := encodeJSONColumns(c)
	if err != nil {
		return err
	}

	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO claims (`+claimColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23)
	`, c.ID, c.PreAuthCode, c.EnrolleeID, c.EnrolleeName, c.EnrolleeCompany,
		c.ProviderID, c.ProviderName, c.PaymentAccount, c.DiagnosisCode, c.Diagnosis,
		c.SubmittedAmount, c.VettedAmount, lines, string(c.Status), c.Adjudicator,
		c.LockHolder, c.LockHolderName, nullTime(c.LockedAt), c.BatchID, string(c.PaymentStatus),
		advisory, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert claim: %w", err)
	}
	return nil
}

// Get retrieves a claim by ID.
func (s *PostgresClaimStore) Get(id string) (*Claim, error) {
	row := s.db.QueryRow(`SELECT `+claimColumns+` FROM claims WHERE id = $1`, id)
	c, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("claim %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return c, nil
}

// List returns claims matching the filter, ordered by creation time.
func (s *PostgresClaimStore) List(filter ClaimFilter) ([]*Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE 1=1`
	var args []any

	addArg := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND %s = $%d", clause, len(args))
	}
	if filter.Status != "" {
		addArg("status", string(filter.Status))
	}
	if filter.Adjudicator != "" {
		addArg("adjudicator", filter.Adjudicator)
	}
	if filter.ProviderID != "" {
		addArg("provider_id", filter.ProviderID)
	}
	if filter.BatchID != "" {
		addArg("batch_id", filter.BatchID)
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var claimsList []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claimsList = append(claimsList, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claims: %w", err)
	}
	return claimsList, nil
}

// Update persists the claim and appends audit entries in one
// transaction. The row lock taken by FOR UPDATE keeps the claim write
// and its audit append atomic with respect to other writers.
func (s *PostgresClaimStore) Update(c *Claim, entries ...*AuditEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var createdAt time.Time
	err = tx.QueryRow(`SELECT created_at FROM claims WHERE id = $1 FOR UPDATE`, c.ID).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("claim %s: %w", c.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock claim row: %w", err)
	}

	lines, advisory, err := encodeJSONColumns(c)
	if err != nil {
		return err
	}

	c.CreatedAt = createdAt
	c.UpdatedAt = time.Now()

	_, err = tx.Exec(`
		UPDATE claims
		SET pre_auth_code = $1, enrollee_id = $2, enrollee_name = $3, enrollee_company = $4,
			provider_id = $5, provider_name = $6, payment_account = $7,
			diagnosis_code = $8, diagnosis = $9,
			submitted_amount = $10, vetted_amount = $11, lines = $12,
			status = $13, adjudicator = $14,
			lock_holder = $15, lock_holder_name = $16, locked_at = $17,
			batch_id = $18, payment_status = $19, advisory = $20, updated_at = $21
		WHERE id = $22
	`, c.PreAuthCode, c.EnrolleeID, c.EnrolleeName, c.EnrolleeCompany,
		c.ProviderID, c.ProviderName, c.PaymentAccount,
		c.DiagnosisCode, c.Diagnosis,
		c.SubmittedAmount, c.VettedAmount, lines,
		string(c.Status), c.Adjudicator,
		c.LockHolder, c.LockHolderName, nullTime(c.LockedAt),
		c.BatchID, string(c.PaymentStatus), advisory, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update claim: %w", err)
	}

	var seq int
	err = tx.QueryRow(`
		SELECT COALESCE(MAX(seq), 0) FROM audit_entries WHERE claim_id = $1
	`, c.ID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to read audit sequence: %w", err)
	}

	for _, e := range entries {
		seq++
		e.Seq = seq
		if e.At.IsZero() {
			e.At = c.UpdatedAt
		}
		_, err = tx.Exec(`
			INSERT INTO audit_entries (claim_id, seq, action, actor_id, actor_name, actor_role, notes, at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, c.ID, e.Seq, e.Action, e.ActorID, e.ActorName, string(e.ActorRole), e.Notes, e.At)
		if err != nil {
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit claim update: %w", err)
	}
	return nil
}

// AuditLog returns the ordered audit trail for a claim.
func (s *PostgresClaimStore) AuditLog(claimID string) ([]*AuditEntry, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM claims WHERE id = $1)`, claimID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check claim existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("claim %s: %w", claimID, ErrNotFound)
	}

	rows, err := s.db.Query(`
		SELECT seq, action, actor_id, actor_name, actor_role, notes, at
		FROM audit_entries
		WHERE claim_id = $1
		ORDER BY seq ASC
	`, claimID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var log []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var role string
		if err := rows.Scan(&e.Seq, &e.Action, &e.ActorID, &e.ActorName, &role, &e.Notes, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.ActorRole = Role(role)
		log = append(log, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return log, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (*Claim, error) {
	var c Claim
	var status, paymentStatus string
	var lines, advisory []byte
	var lockedAt sql.NullTime

	err := row.Scan(&c.ID, &c.PreAuthCode, &c.EnrolleeID, &c.EnrolleeName, &c.EnrolleeCompany,
		&c.ProviderID, &c.ProviderName, &c.PaymentAccount, &c.DiagnosisCode, &c.Diagnosis,
		&c.SubmittedAmount, &c.VettedAmount, &lines, &status, &c.Adjudicator,
		&c.LockHolder, &c.LockHolderName, &lockedAt, &c.BatchID, &paymentStatus,
		&advisory, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.Status = Status(status)
	c.PaymentStatus = PaymentStatus(paymentStatus)
	if lockedAt.Valid {
		c.LockedAt = lockedAt.Time
	}
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &c.Lines); err != nil {
			return nil, fmt.Errorf("failed to decode treatment lines: %w", err)
		}
	}
	if len(advisory) > 0 {
		c.Advisory = &Advisory{}
		if err := json.Unmarshal(advisory, c.Advisory); err != nil {
			return nil, fmt.Errorf("failed to decode advisory: %w", err)
		}
	}
	return &c, nil
}

func encodeJSONColumns(c *Claim) (lines []byte, advisory any, err error) {
	lines, err = json.Marshal(c.Lines)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode treatment lines: %w", err)
	}
	if c.Advisory == nil {
		return lines, nil, nil
	}
	raw, err := json.Marshal(c.Advisory)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode advisory: %w", err)
	}
	return lines, raw, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
