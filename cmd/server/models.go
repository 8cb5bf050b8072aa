package main

import (
	"github.com/veritahealth/adjudicator/claims"
)

// API request and response models.

// ActorPayload identifies the already-authenticated actor invoking a
// command. Authentication itself happens upstream of this service.
type ActorPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

func (a ActorPayload) actor() claims.Actor {
	return claims.Actor{ID: a.ID, Name: a.Name, Role: claims.Role(a.Role)}
}

// TreatmentLinePayload is one billed service on an incoming claim.
type TreatmentLinePayload struct {
	Service   string `json:"service"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

// CreateClaimRequest is the intake payload. The submitted amount is
// derived from the treatment lines.
type CreateClaimRequest struct {
	PreAuthCode     string                 `json:"preAuthCode,omitempty"`
	EnrolleeID      string                 `json:"enrolleeId"`
	EnrolleeName    string                 `json:"enrolleeName"`
	EnrolleeCompany string                 `json:"enrolleeCompany,omitempty"`
	ProviderID      string                 `json:"providerId"`
	ProviderName    string                 `json:"providerName"`
	PaymentAccount  string                 `json:"paymentAccount,omitempty"`
	DiagnosisCode   string                 `json:"diagnosisCode,omitempty"`
	Diagnosis       string                 `json:"diagnosis,omitempty"`
	Lines           []TreatmentLinePayload `json:"lines"`
}

// ReviewRequest acquires the review lock.
type ReviewRequest struct {
	Actor ActorPayload `json:"actor"`
}

// ForwardRequest hands a claim to medical review. Notes are required.
type ForwardRequest struct {
	Actor ActorPayload `json:"actor"`
	Notes string       `json:"notes"`
}

// ApproveRequest finalizes a claim for payment. Notes are required.
type ApproveRequest struct {
	Actor ActorPayload `json:"actor"`
	Notes string       `json:"notes"`
}

// RejectRequest closes a claim unpaid. Reason is required.
type RejectRequest struct {
	Actor  ActorPayload `json:"actor"`
	Reason string       `json:"reason"`
}

// AdjustRequest replaces the vetted amount. Reason is required.
type AdjustRequest struct {
	Actor  ActorPayload `json:"actor"`
	Amount int64        `json:"amount"`
	Reason string       `json:"reason"`
}

// ForceReleaseRequest clears a stale review lock (admin only).
type ForceReleaseRequest struct {
	Actor ActorPayload `json:"actor"`
}

// ClaimsListResponse wraps a claim listing.
type ClaimsListResponse struct {
	Claims []*claims.Claim `json:"claims"`
}

// AuditTrailResponse wraps a claim's audit log.
type AuditTrailResponse struct {
	ClaimID string               `json:"claimId"`
	Entries []*claims.AuditEntry `json:"entries"`
}

// ErrorResponse is the error envelope. Lock-conflict errors carry the
// holder so the UI can tell the user who has the claim and since when.
type ErrorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	LockHolder string `json:"lockHolder,omitempty"`
	LockedAt   string `json:"lockedAt,omitempty"`
}
