package claims

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine owns the adjudication workflow: the claim lifecycle state
// machine, the exclusive review lock per claim, amount adjustment and
// batch assignment. All mutating operations on one claim run inside
// that claim's critical section, so the lock check-and-set, the status
// validation and the audit append are a single atomic unit.
type Engine struct {
	store    ClaimStore
	notifier Notifier

	openBatch string
	claimMu   map[string]*sync.Mutex
	mu        sync.Mutex // guards claimMu and openBatch
}

// NewEngine creates an engine over the given store. A nil notifier
// discards events.
func NewEngine(store ClaimStore, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{
		store:     store,
		notifier:  notifier,
		openBatch: defaultBatchID(time.Now()),
		claimMu:   make(map[string]*sync.Mutex),
	}
}

// defaultBatchID names the month's payment batch.
func defaultBatchID(now time.Time) string {
	return "PB-" + now.Format("200601")
}

// lockFor returns the mutex serializing operations on one claim.
// Operations on different claims never contend.
func (en *Engine) lockFor(claimID string) *sync.Mutex {
	en.mu.Lock()
	defer en.mu.Unlock()

	mu, exists := en.claimMu[claimID]
	if !exists {
		mu = &sync.Mutex{}
		en.claimMu[claimID] = mu
	}
	return mu
}

// CurrentBatch returns the open payment batch ID that approvals are
// assigned to.
func (en *Engine) CurrentBatch() string {
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.openBatch
}

// OpenBatch replaces the open payment batch. An empty ID opens a fresh
// uuid-named batch. Returns the batch ID now open.
func (en *Engine) OpenBatch(batchID string) string {
	if batchID == "" {
		batchID = "PB-" + uuid.New().String()
	}
	en.mu.Lock()
	en.openBatch = batchID
	en.mu.Unlock()
	return batchID
}

// Submit registers a new claim for adjudication. The claim arrives
// with treatment lines and (optionally) advisory data populated; the
// engine derives the submitted amount from the lines when unset and
// starts the lifecycle at pending_review.
func (en *Engine) Submit(c *Claim) (*Claim, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.SubmittedAmount == 0 {
		c.SubmittedAmount = c.LineTotal()
	}
	if c.SubmittedAmount < 0 {
		return nil, fmt.Errorf("submitted amount: %w", ErrInvalidAmount)
	}
	c.VettedAmount = c.SubmittedAmount
	c.Status = StatusPendingReview
	c.PaymentStatus = PaymentUnpaid
	c.Adjudicator = ""
	c.BatchID = ""
	c.LockHolder = ""
	c.LockHolderName = ""
	c.LockedAt = time.Time{}

	if err := en.store.Create(c); err != nil {
		return nil, err
	}
	return en.store.Get(c.ID)
}

// AcquireReview grants the exclusive review lock on a claim. A
// first-line reviewer moves a pending claim to under_review, a final
// reviewer to medical_review. A claim already in a review status but
// unlocked (forwarded, or force-released mid-review) is picked up
// without a status change, so work can always resume after the lock
// is cleared.
func (en *Engine) AcquireReview(claimID string, actor Actor) (*Claim, error) {
	mu := en.lockFor(claimID)
	mu.Lock()
	defer mu.Unlock()

	c, err := en.store.Get(claimID)
	if err != nil {
		return nil, err
	}

	if c.Locked() {
		if c.LockedBy(actor) {
			return nil, fmt.Errorf("claim %s: %w", claimID, ErrAlreadyLocked)
		}
		return nil, &LockedByOtherError{
			HolderID:   c.LockHolder,
			HolderName: c.LockHolderName,
			Since:      c.LockedAt,
		}
	}

	var tier string
	switch c.Status {
	case StatusPendingReview:
		switch actor.Role {
		case RoleClaimsOfficer, RoleAdmin:
			c.Status = StatusUnderReview
			tier = "claims review"
		case RoleMedicalReviewer:
			c.Status = StatusMedicalReview
			tier = "medical review"
		default:
			return nil, fmt.Errorf("role %s: %w", actor.Role, ErrPermissionDenied)
		}
	case StatusUnderReview:
		switch actor.Role {
		case RoleClaimsOfficer, RoleMedicalReviewer, RoleAdmin:
			tier = "claims review"
		default:
			return nil, fmt.Errorf("role %s: %w", actor.Role, ErrPermissionDenied)
		}
	case StatusMedicalReview:
		if actor.Role != RoleMedicalReviewer && actor.Role != RoleAdmin {
			return nil, fmt.Errorf("role %s: %w", actor.Role, ErrPermissionDenied)
		}
		tier = "medical review"
	default:
		return nil, fmt.Errorf("claim %s in status %s: %w", claimID, c.Status, ErrInvalidTransition)
	}

	c.LockHolder = actor.ID
	c.LockHolderName = actor.Name
	c.LockedAt = time.Now()

	entry := newEntry(ActionReviewStarted, actor, fmt.Sprintf("%s started %s", actor.Name, tier))
	if err := en.store.Update(c, entry); err != nil {
		return nil, err
	}
	return en.store.Get(claimID)
}

// ForwardToMedicalReview releases the first-line reviewer's lock and
// hands the claim to the medical review tier. Notes are mandatory.
func (en *Engine) ForwardToMedicalReview(claimID string, actor Actor, notes string) (*Claim, error) {
	mu := en.lockFor(claimID)
	mu.Lock()
	defer mu.Unlock()

	c, err := en.store.Get(claimID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusUnderReview {
		return nil, fmt.Errorf("claim %s in status %s: %w", claimID, c.Status, ErrInvalidTransition)
	}
	if err := en.requireHolder(c, actor); err != nil {
		return nil, err
	}
	if actor.Role != RoleClaimsOfficer && actor.Role != RoleAdmin {
		return nil, fmt.Errorf("role %s: %w", actor.Role, ErrPermissionDenied)
	}
	if notes == "" {
		return nil, fmt.Errorf("forward notes: %w", ErrReasonRequired)
	}

	c.Status = StatusMedicalReview
	releaseLock(c)

	entry := newEntry(ActionForwarded, actor, notes)
	if err := en.store.Update(c, entry); err != nil {
		return nil, err
	}

	en.notifier.Notify(Event{
		Type:    EventForwarded,
		ClaimID: claimID,
		Summary: fmt.Sprintf("claim %s forwarded to medical review by %s", claimID, actor.Name),
		At:      time.Now(),
	})
	return en.store.Get(claimID)
}

// Approve finalizes a claim for payment: sets the adjudicator,
// releases the lock, assigns the open payment batch and marks payment
// pending. Notes are mandatory.
func (en *Engine) Approve(claimID string, actor Actor, notes string) (*Claim, error) {
	mu := en.lockFor(claimID)
	mu.Lock()
	defer mu.Unlock()

	c, err := en.store.Get(claimID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusUnderReview && c.Status != StatusMedicalReview {
		return nil, fmt.Errorf("claim %s in status %s: %w", claimID, c.Status, ErrInvalidTransition)
	}
	if err := en.requireHolder(c, actor); err != nil {
		return nil, err
	}
	if err := en.requireRole(c, actor); err != nil {
		return nil, err
	}
	if notes == "" {
		return nil, fmt.Errorf("approval notes: %w", ErrReasonRequired)
	}

	c.Status = StatusApproved
	c.Adjudicator = actor.ID
	c.PaymentStatus = PaymentPending
	// Batch assignment is idempotent: an already-batched claim keeps
	// its batch.
	if c.BatchID == "" {
		c.BatchID = en.CurrentBatch()
	}
	releaseLock(c)

	entry := newEntry(ActionApproved, actor, notes)
	if err := en.store.Update(c, entry); err != nil {
		return nil, err
	}

	en.notifier.Notify(Event{
		Type:    EventApproved,
		ClaimID: claimID,
		Summary: fmt.Sprintf("claim %s approved by %s into batch %s", claimID, actor.Name, c.BatchID),
		At:      time.Now(),
	})
	return en.store.Get(claimID)
}

// Reject closes a claim unpaid. The reason is mandatory and lands in
// the audit trail; the vetted amount is forced to zero.
func (en *Engine) Reject(claimID string, actor Actor, reason string) (*Claim, error) {
	mu := en.lockFor(claimID)
	mu.Lock()
	defer mu.Unlock()

	c, err := en.store.Get(claimID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusUnderReview && c.Status != StatusMedicalReview {
		return nil, fmt.Errorf("claim %s in status %s: %w", claimID, c.Status, ErrInvalidTransition)
	}
	if err := en.requireHolder(c, actor); err != nil {
		return nil, err
	}
	if err := en.requireRole(c, actor); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, fmt.Errorf("rejection reason: %w", ErrReasonRequired)
	}

	c.Status = StatusRejected
	c.Adjudicator = actor.ID
	c.VettedAmount = 0
	c.PaymentStatus = PaymentRejected
	releaseLock(c)

	entry := newEntry(ActionRejected, actor, reason)
	if err := en.store.Update(c, entry); err != nil {
		return nil, err
	}

	en.notifier.Notify(Event{
		Type:    EventRejected,
		ClaimID: claimID,
		Summary: fmt.Sprintf("claim %s rejected by %s: %s", claimID, actor.Name, reason),
		At:      time.Now(),
	})
	return en.store.Get(claimID)
}

// AutoReject records an explicit pre-screening rejection of a pending
// claim. It is a distinct operation taken by the pre-screen actor, not
// a side effect of attaching advisory data.
func (en *Engine) AutoReject(claimID string, actor Actor, reason string) (*Claim, error) {
	mu := en.lockFor(claimID)
	mu.Lock()
	defer mu.Unlock()

	c, err := en.store.Get(claimID)
	if err != nil {
		return nil, err
	}
	if actor.Role != RolePrescreener && actor.Role != RoleAdmin {
		return nil, fmt.Errorf("role %s: %w", actor.Role, ErrPermissionDenied)
	}
	if c.Locked() {
		return nil, &LockedByOtherError{
			HolderID:   c.LockHolder,
			HolderName: c.LockHolderName,
			Since:      c.LockedAt,
		}
	}
	if c.Status != StatusPendingReview {
		return nil, fmt.Errorf("claim %s in status %s: %w", claimID, c.Status, ErrInvalidTransition)
	}
	if reason == "" {
		return nil, fmt.Errorf("auto-rejection reason: %w", ErrReasonRequired)
	}

	c.Status = StatusAutoRejected
	c.Adjudicator = actor.ID
	c.VettedAmount = 0
	c.PaymentStatus = PaymentRejected

	entry := newEntry(ActionAutoRejected, actor, reason)
	if err := en.store.Update(c, entry); err != nil {
		return nil, err
	}

	en.notifier.Notify(Event{
		Type:    EventAutoRejected,
		ClaimID: claimID,
		Summary: fmt.Sprintf("claim %s auto-rejected at pre-screening: %s", claimID, reason),
		At:      time.Now(),
	})
	return en.store.Get(claimID)
}

// AdjustAmount replaces the vetted amount with an explicit reason. The
// submitted amount is never touched and the status does not change.
// The caller must hold the review lock; terminal claims, which cannot
// be locked, accept adjustments from the admin role only.
func (en *Engine) AdjustAmount(claimID string, actor Actor, newAmount int64, reason string) (*Claim, error) {
	mu := en.lockFor(claimID)
	mu.Lock()
	defer mu.Unlock()

	c, err := en.store.Get(claimID)
	if err != nil {
		return nil, err
	}
	if newAmount < 0 {
		return nil, fmt.Errorf("amount %d: %w", newAmount, ErrInvalidAmount)
	}
	if reason == "" {
		return nil, fmt.Errorf("adjustment reason: %w", ErrReasonRequired)
	}
	if c.Status.Terminal() {
		if actor.Role != RoleAdmin {
			return nil, fmt.Errorf("role %s on settled claim: %w", actor.Role, ErrPermissionDenied)
		}
	} else if err := en.requireHolder(c, actor); err != nil {
		return nil, err
	}

	old := c.VettedAmount
	c.VettedAmount = newAmount

	entry := newEntry(ActionAmountAdjusted, actor,
		fmt.Sprintf("vetted amount changed from %d to %d: %s", old, newAmount, reason))
	if err := en.store.Update(c, entry); err != nil {
		return nil, err
	}

	en.notifier.Notify(Event{
		Type:    EventAmountAdjusted,
		ClaimID: claimID,
		Summary: fmt.Sprintf("claim %s vetted amount adjusted from %d to %d by %s", claimID, old, newAmount, actor.Name),
		At:      time.Now(),
	})
	return en.store.Get(claimID)
}

// ForceRelease is the administrative recovery for stale locks: it
// clears the lock of any holder without a status transition. Admin
// role only.
func (en *Engine) ForceRelease(claimID string, actor Actor) (*Claim, error) {
	mu := en.lockFor(claimID)
	mu.Lock()
	defer mu.Unlock()

	c, err := en.store.Get(claimID)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleAdmin {
		return nil, fmt.Errorf("role %s: %w", actor.Role, ErrPermissionDenied)
	}
	if !c.Locked() {
		return nil, fmt.Errorf("claim %s is not locked: %w", claimID, ErrNotLockHolder)
	}

	holder := c.LockHolderName
	releaseLock(c)

	entry := newEntry(ActionLockReleased, actor,
		fmt.Sprintf("review lock held by %s force-released", holder))
	if err := en.store.Update(c, entry); err != nil {
		return nil, err
	}

	en.notifier.Notify(Event{
		Type:    EventLockReleased,
		ClaimID: claimID,
		Summary: fmt.Sprintf("review lock on claim %s force-released by %s", claimID, actor.Name),
		At:      time.Now(),
	})
	return en.store.Get(claimID)
}

// Get retrieves a claim by ID.
func (en *Engine) Get(claimID string) (*Claim, error) {
	return en.store.Get(claimID)
}

// List returns claims matching the filter.
func (en *Engine) List(filter ClaimFilter) ([]*Claim, error) {
	return en.store.List(filter)
}

// AuditTrail returns the ordered audit log for a claim. The log is the
// source of truth for what happened and when; history views derive
// from it, not from mutated claim fields.
func (en *Engine) AuditTrail(claimID string) ([]*AuditEntry, error) {
	return en.store.AuditLog(claimID)
}

// requireHolder enforces lock discipline: only the current lock holder
// may transition a locked claim, and an unlocked claim cannot be
// transitioned by anyone.
func (en *Engine) requireHolder(c *Claim, actor Actor) error {
	if !c.Locked() {
		return fmt.Errorf("claim %s is not locked: %w", c.ID, ErrNotLockHolder)
	}
	if !c.LockedBy(actor) {
		return &LockedByOtherError{
			HolderID:   c.LockHolder,
			HolderName: c.LockHolderName,
			Since:      c.LockedAt,
		}
	}
	return nil
}

// requireRole enforces the tier policy: first-line reviewers act on
// pending or under-review claims, final reviewers on under-review or
// medical-review claims. The admin capability bypasses the policy.
func (en *Engine) requireRole(c *Claim, actor Actor) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleClaimsOfficer:
		if c.Status == StatusPendingReview || c.Status == StatusUnderReview {
			return nil
		}
	case RoleMedicalReviewer:
		if c.Status == StatusUnderReview || c.Status == StatusMedicalReview {
			return nil
		}
	}
	return fmt.Errorf("role %s may not act on status %s: %w", actor.Role, c.Status, ErrPermissionDenied)
}

func releaseLock(c *Claim) {
	c.LockHolder = ""
	c.LockHolderName = ""
	c.LockedAt = time.Time{}
}

func newEntry(action string, actor Actor, notes string) *AuditEntry {
	return &AuditEntry{
		Action:    action,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		ActorRole: actor.Role,
		Notes:     notes,
	}
}
