package claims

import "time"

// Status is the adjudication lifecycle state of a claim.
type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusUnderReview   Status = "under_review"
	StatusMedicalReview Status = "medical_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusAutoRejected  Status = "auto_rejected"
)

// Terminal reports whether no further status transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusAutoRejected
}

// PaymentStatus tracks a claim's position in the payment pipeline.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPending  PaymentStatus = "pending"
	PaymentRejected PaymentStatus = "rejected"
)

// Role identifies what an actor is allowed to do in the workflow.
type Role string

const (
	// RoleClaimsOfficer is the first-line review tier.
	RoleClaimsOfficer Role = "claims_officer"
	// RoleMedicalReviewer is the final review tier.
	RoleMedicalReviewer Role = "medical_reviewer"
	// RoleAdmin carries the all-permissions capability. Role policy is
	// bypassed; lock discipline is not.
	RoleAdmin Role = "admin"
	// RolePrescreener is the system actor that records pre-screening
	// decisions (auto-reject) before any human review.
	RolePrescreener Role = "prescreener"
)

// Actor is the already-authenticated identity invoking an operation.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Audit action labels. One entry is appended per mutation, always with
// one of these actions.
const (
	ActionReviewStarted  = "REVIEW_STARTED"
	ActionForwarded      = "FORWARDED_TO_MEDICAL_REVIEW"
	ActionApproved       = "APPROVED"
	ActionRejected       = "REJECTED"
	ActionAutoRejected   = "AUTO_REJECTED"
	ActionAmountAdjusted = "AMOUNT_ADJUSTED"
	ActionLockReleased   = "LOCK_FORCE_RELEASED"
)

// Advisory recommendation values.
const (
	RecommendApprove       = "APPROVE"
	RecommendApproveAdjust = "APPROVE_WITH_ADJUSTMENT"
	RecommendReject        = "REJECT"
)

// TreatmentLine is one billed service on a claim. Amounts are integer
// minor currency units.
type TreatmentLine struct {
	Service   string `json:"service"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

// Total returns the line total (unit price times quantity).
func (l TreatmentLine) Total() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Advisory is the external pre-screening signal attached to a claim at
// intake. It is informative only and never mutated by the engine.
type Advisory struct {
	Score           int      `json:"score"`
	Flags           []string `json:"flags"`
	Recommendation  string   `json:"recommendation"`
	Confidence      float64  `json:"confidence"`
	SuggestedAmount int64    `json:"suggestedAmount"`
	Reasoning       string   `json:"reasoning"`
}

// AuditEntry is one immutable record of an action taken against a
// claim. Seq is monotonic and gapless within a claim.
type AuditEntry struct {
	Seq       int       `json:"seq"`
	Action    string    `json:"action"`
	ActorID   string    `json:"actorId"`
	ActorName string    `json:"actorName"`
	ActorRole Role      `json:"actorRole"`
	Notes     string    `json:"notes,omitempty"`
	At        time.Time `json:"at"`
}

// Claim is the unit of adjudication.
type Claim struct {
	ID          string `json:"id"`
	PreAuthCode string `json:"preAuthCode,omitempty"`

	EnrolleeID      string `json:"enrolleeId"`
	EnrolleeName    string `json:"enrolleeName"`
	EnrolleeCompany string `json:"enrolleeCompany,omitempty"`

	ProviderID     string `json:"providerId"`
	ProviderName   string `json:"providerName"`
	PaymentAccount string `json:"paymentAccount,omitempty"`

	DiagnosisCode string `json:"diagnosisCode,omitempty"`
	Diagnosis     string `json:"diagnosis,omitempty"`

	// SubmittedAmount is fixed at intake (sum of line totals).
	// VettedAmount starts equal to it and moves only through explicit
	// adjustments, so the claim as submitted stays auditable.
	SubmittedAmount int64           `json:"submittedAmount"`
	VettedAmount    int64           `json:"vettedAmount"`
	Lines           []TreatmentLine `json:"lines,omitempty"`

	Status      Status `json:"status"`
	Adjudicator string `json:"adjudicator,omitempty"`

	LockHolder     string    `json:"lockHolder,omitempty"`
	LockHolderName string    `json:"lockHolderName,omitempty"`
	LockedAt       time.Time `json:"lockedAt,omitzero"`

	BatchID       string        `json:"batchId,omitempty"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`

	Advisory *Advisory `json:"advisory,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ClaimAmount is the display amount: the submitted amount until an
// adjustment diverges the vetted amount from it.
func (c *Claim) ClaimAmount() int64 {
	return c.VettedAmount
}

// Locked reports whether any actor holds the review lock.
func (c *Claim) Locked() bool {
	return c.LockHolder != ""
}

// LockedBy reports whether the given actor holds the review lock.
func (c *Claim) LockedBy(actor Actor) bool {
	return c.LockHolder != "" && c.LockHolder == actor.ID
}

// LineTotal sums the treatment line totals.
func (c *Claim) LineTotal() int64 {
	var total int64
	for _, l := range c.Lines {
		total += l.Total()
	}
	return total
}

// clone returns a deep copy so callers never share memory with the
// store's copy.
func (c *Claim) clone() *Claim {
	cp := *c
	if c.Lines != nil {
		cp.Lines = make([]TreatmentLine, len(c.Lines))
		copy(cp.Lines, c.Lines)
	}
	if c.Advisory != nil {
		adv := *c.Advisory
		if c.Advisory.Flags != nil {
			adv.Flags = make([]string, len(c.Advisory.Flags))
			copy(adv.Flags, c.Advisory.Flags)
		}
		cp.Advisory = &adv
	}
	return &cp
}

// ClaimFilter narrows List results. Zero values match everything.
type ClaimFilter struct {
	Status      Status
	Adjudicator string
	ProviderID  string
	BatchID     string
	From        time.Time
	To          time.Time
}

// Matches reports whether the claim satisfies every set filter field.
func (f ClaimFilter) Matches(c *Claim) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Adjudicator != "" && c.Adjudicator != f.Adjudicator {
		return false
	}
	if f.ProviderID != "" && c.ProviderID != f.ProviderID {
		return false
	}
	if f.BatchID != "" && c.BatchID != f.BatchID {
		return false
	}
	if !f.From.IsZero() && c.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && c.CreatedAt.After(f.To) {
		return false
	}
	return true
}
