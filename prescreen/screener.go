// Package prescreen evaluates configurable screening rules against an
// incoming claim and produces the advisory attached to it. Rules are
// CEL expressions over the claim's fields; they inform reviewers and
// may recommend rejection, but a claim only becomes auto_rejected
// through an explicit engine call by the pre-screening actor.
package prescreen

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/veritahealth/adjudicator/claims"
)

// Severity of a screening rule match.
const (
	SeverityFlag   = "FLAG"   // adds a flag and a score penalty
	SeverityReject = "REJECT" // additionally recommends rejection
)

// adjustThreshold is the score below which the recommendation becomes
// APPROVE_WITH_ADJUSTMENT.
const adjustThreshold = 70

// Rule is one screening rule. Expression is a CEL boolean expression
// over a single `Claim` variable, e.g. `Claim.SubmittedAmount > 500000`.
type Rule struct {
	ID         string
	Name       string
	Expression string
	Flag       string // flag label attached to the advisory on match
	Penalty    int    // score penalty on match, 0-100
	Severity   string // SeverityFlag or SeverityReject
}

// ValidateRule checks a rule definition before compilation.
func ValidateRule(r *Rule) error {
	if r.ID == "" {
		return fmt.Errorf("rule ID cannot be empty")
	}
	if r.Name == "" {
		return fmt.Errorf("rule %s: name cannot be empty", r.ID)
	}
	if strings.TrimSpace(r.Expression) == "" {
		return fmt.Errorf("rule %s: expression cannot be empty", r.ID)
	}
	if r.Flag == "" {
		return fmt.Errorf("rule %s: flag label cannot be empty", r.ID)
	}
	if r.Penalty < 0 || r.Penalty > 100 {
		return fmt.Errorf("rule %s: penalty %d out of range 0-100", r.ID, r.Penalty)
	}
	if r.Severity != SeverityFlag && r.Severity != SeverityReject {
		return fmt.Errorf("rule %s: severity must be %s or %s", r.ID, SeverityFlag, SeverityReject)
	}
	return nil
}

// Screener compiles screening rules once and evaluates them against
// claims. Thread-safe for concurrent Screen calls.
type Screener struct {
	env      *cel.Env
	rules    []*Rule
	programs map[string]cel.Program
	mu       sync.RWMutex
}

// NewScreener creates a screener and compiles all rules.
func NewScreener(rules []*Rule) (*Screener, error) {
	env, err := cel.NewEnv(cel.Variable("Claim", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	s := &Screener{
		env:      env,
		programs: make(map[string]cel.Program),
	}
	for _, r := range rules {
		if err := s.AddRule(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddRule validates, compiles and registers a screening rule.
func (s *Screener) AddRule(r *Rule) error {
	if err := ValidateRule(r); err != nil {
		return err
	}

	ast, issues := s.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("rule %s: compile error: %w", r.ID, issues.Err())
	}
	prog, err := s.env.Program(ast, cel.CostLimit(1000000))
	if err != nil {
		return fmt.Errorf("rule %s: program creation error: %w", r.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.programs[r.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", r.ID)
	}
	s.programs[r.ID] = prog
	s.rules = append(s.rules, r)
	return nil
}

// Result is the outcome of screening one claim.
type Result struct {
	Advisory *claims.Advisory
	// RejectReason is non-empty when a REJECT-severity rule matched;
	// the caller is expected to auto-reject the claim explicitly.
	RejectReason string
}

// Screen evaluates all rules against the claim and derives the
// advisory: matched flags, score (100 minus the penalties, floored at
// zero), recommendation, confidence (share of rules that evaluated
// cleanly) and a suggested amount.
func (s *Screener) Screen(c *claims.Claim) *Result {
	s.mu.RLock()
	rules := make([]*Rule, len(s.rules))
	copy(rules, s.rules)
	programs := s.programs
	s.mu.RUnlock()

	facts := map[string]any{"Claim": claimFacts(c)}

	score := 100
	evaluated := 0
	var flags []string
	var matchedNames []string
	var rejectedBy []string

	for _, r := range rules {
		prog := programs[r.ID]
		out, _, err := prog.Eval(facts)
		if err != nil {
			// A rule that fails to evaluate lowers confidence but
			// never blocks intake.
			continue
		}
		evaluated++

		matched, ok := out.Value().(bool)
		if !ok || !matched {
			continue
		}

		flags = append(flags, r.Flag)
		matchedNames = append(matchedNames, r.Name)
		score -= r.Penalty
		if r.Severity == SeverityReject {
			rejectedBy = append(rejectedBy, r.Name)
		}
	}
	if score < 0 {
		score = 0
	}

	confidence := 1.0
	if len(rules) > 0 {
		confidence = float64(evaluated) / float64(len(rules))
	}

	recommendation := claims.RecommendApprove
	suggested := c.SubmittedAmount
	switch {
	case len(rejectedBy) > 0:
		recommendation = claims.RecommendReject
		suggested = 0
	case score < adjustThreshold:
		recommendation = claims.RecommendApproveAdjust
		suggested = c.SubmittedAmount * int64(score) / 100
	}

	reasoning := "no screening rules matched"
	if len(matchedNames) > 0 {
		reasoning = "matched: " + strings.Join(matchedNames, "; ")
	}

	result := &Result{
		Advisory: &claims.Advisory{
			Score:           score,
			Flags:           flags,
			Recommendation:  recommendation,
			Confidence:      confidence,
			SuggestedAmount: suggested,
			Reasoning:       reasoning,
		},
	}
	if len(rejectedBy) > 0 {
		result.RejectReason = "pre-screening: " + strings.Join(rejectedBy, "; ")
	}
	return result
}

// claimFacts flattens the claim into the CEL evaluation input.
func claimFacts(c *claims.Claim) map[string]any {
	lines := make([]map[string]any, 0, len(c.Lines))
	for _, l := range c.Lines {
		lines = append(lines, map[string]any{
			"Service":   l.Service,
			"UnitPrice": l.UnitPrice,
			"Quantity":  l.Quantity,
			"Total":     l.Total(),
		})
	}
	return map[string]any{
		"ID":              c.ID,
		"PreAuthCode":     c.PreAuthCode,
		"EnrolleeID":      c.EnrolleeID,
		"EnrolleeCompany": c.EnrolleeCompany,
		"ProviderID":      c.ProviderID,
		"DiagnosisCode":   c.DiagnosisCode,
		"SubmittedAmount": c.SubmittedAmount,
		"LineCount":       len(c.Lines),
		"LineTotal":       c.LineTotal(),
		"Lines":           lines,
	}
}
