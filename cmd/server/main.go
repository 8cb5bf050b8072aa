package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/veritahealth/adjudicator/claims"
	"github.com/veritahealth/adjudicator/internal/logger"
	"github.com/veritahealth/adjudicator/prescreen"
)

// prescreenActor is the system identity that records pre-screening
// decisions. Auto-rejections are attributed to it in the audit trail.
var prescreenActor = claims.Actor{
	ID:   "system-prescreen",
	Name: "Pre-screening",
	Role: claims.RolePrescreener,
}

type Server struct {
	db       *sql.DB // nil when running on the in-memory store
	store    claims.ClaimStore
	engine   *claims.Engine
	screener *prescreen.Screener
	router   *chi.Mux
}

func NewServer(databaseURL string) (*Server, error) {
	var db *sql.DB
	var store claims.ClaimStore

	// STORE overrides the default of postgres-when-DATABASE_URL-is-set.
	usePostgres := databaseURL != ""
	switch kind := strings.ToLower(os.Getenv("STORE")); kind {
	case "":
	case "memory":
		usePostgres = false
	case "postgres":
		if databaseURL == "" {
			return nil, fmt.Errorf("STORE=postgres requires DATABASE_URL")
		}
		usePostgres = true
	default:
		return nil, fmt.Errorf("unknown STORE value %q (use memory or postgres)", kind)
	}

	if usePostgres {
		var err error
		db, err = sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		store = claims.NewPostgresClaimStore(db)
		logger.Logger.Info("using postgres claim store")
	} else {
		store = claims.NewInMemoryClaimStore()
		logger.Logger.Warn("using in-memory claim store")
	}

	screener, err := prescreen.NewScreener(defaultScreeningRules())
	if err != nil {
		return nil, fmt.Errorf("failed to build screener: %w", err)
	}

	engine := claims.NewEngine(store, claims.LogNotifier{Log: logger.Logger})

	s := &Server{
		db:       db,
		store:    store,
		engine:   engine,
		screener: screener,
	}
	s.setupRoutes()
	return s, nil
}

// defaultScreeningRules are the built-in pre-screening checks.
func defaultScreeningRules() []*prescreen.Rule {
	return []*prescreen.Rule{
		{
			ID:         "high-amount",
			Name:       "Submitted amount above review ceiling",
			Expression: `Claim.SubmittedAmount > 500000`,
			Flag:       "HIGH_AMOUNT",
			Penalty:    25,
			Severity:   prescreen.SeverityFlag,
		},
		{
			ID:         "no-lines",
			Name:       "Claim has no treatment lines",
			Expression: `Claim.LineCount == 0`,
			Flag:       "NO_TREATMENT_LINES",
			Penalty:    100,
			Severity:   prescreen.SeverityReject,
		},
		{
			ID:         "line-total-mismatch",
			Name:       "Submitted amount does not match line totals",
			Expression: `Claim.LineCount > 0 && Claim.SubmittedAmount != Claim.LineTotal`,
			Flag:       "LINE_TOTAL_MISMATCH",
			Penalty:    40,
			Severity:   prescreen.SeverityFlag,
		},
		{
			ID:         "missing-diagnosis",
			Name:       "Diagnosis code missing",
			Expression: `Claim.DiagnosisCode == ""`,
			Flag:       "MISSING_DIAGNOSIS",
			Penalty:    15,
			Severity:   prescreen.SeverityFlag,
		},
	}
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Route("/api/v1/claims", func(r chi.Router) {
		r.Post("/", s.handleCreateClaim)
		r.Get("/", s.handleListClaims)

		r.Route("/{claimId}", func(r chi.Router) {
			r.Get("/", s.handleGetClaim)
			r.Get("/audit", s.handleAuditTrail)
			r.Post("/review", s.handleAcquireReview)
			r.Post("/forward", s.handleForward)
			r.Post("/approve", s.handleApprove)
			r.Post("/reject", s.handleReject)
			r.Post("/amount", s.handleAdjustAmount)
			r.Post("/force-release", s.handleForceRelease)
		})
	})

	r.Route("/api/v1/batches/{batchId}", func(r chi.Router) {
		r.Get("/summary", s.handleBatchSummary)
		r.Get("/export", s.handleBatchExport)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"openBatch": s.engine.CurrentBatch(),
	})
}

// handleCreateClaim is the intake path: the claim is screened, the
// advisory is attached, and a REJECT-severity match triggers an
// explicit auto-reject by the pre-screen actor.
func (s *Server) handleCreateClaim(w http.ResponseWriter, r *http.Request) {
	var req CreateClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.EnrolleeID == "" || req.ProviderID == "" {
		respondError(w, http.StatusBadRequest, "enrolleeId and providerId are required", nil)
		return
	}

	c := &claims.Claim{
		PreAuthCode:     req.PreAuthCode,
		EnrolleeID:      req.EnrolleeID,
		EnrolleeName:    req.EnrolleeName,
		EnrolleeCompany: req.EnrolleeCompany,
		ProviderID:      req.ProviderID,
		ProviderName:    req.ProviderName,
		PaymentAccount:  req.PaymentAccount,
		DiagnosisCode:   req.DiagnosisCode,
		Diagnosis:       req.Diagnosis,
	}
	for _, l := range req.Lines {
		c.Lines = append(c.Lines, claims.TreatmentLine{
			Service:   l.Service,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
		})
	}
	c.SubmittedAmount = c.LineTotal()

	result := s.screener.Screen(c)
	c.Advisory = result.Advisory

	created, err := s.engine.Submit(c)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	if result.RejectReason != "" {
		created, err = s.engine.AutoReject(created.ID, prescreenActor, result.RejectReason)
		if err != nil {
			respondEngineError(w, err)
			return
		}
	}

	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := claims.ClaimFilter{
		Status:      claims.Status(q.Get("status")),
		Adjudicator: q.Get("adjudicator"),
		ProviderID:  q.Get("provider"),
		BatchID:     q.Get("batch"),
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid from timestamp", err)
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid to timestamp", err)
			return
		}
		filter.To = t
	}

	list, err := s.engine.List(filter)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if list == nil {
		list = []*claims.Claim{}
	}
	respondJSON(w, http.StatusOK, ClaimsListResponse{Claims: list})
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.Get(chi.URLParam(r, "claimId"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "claimId")
	entries, err := s.engine.AuditTrail(claimID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []*claims.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, AuditTrailResponse{ClaimID: claimID, Entries: entries})
}

func (s *Server) handleAcquireReview(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	c, err := s.engine.AcquireReview(chi.URLParam(r, "claimId"), req.Actor.actor())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	var req ForwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	c, err := s.engine.ForwardToMedicalReview(chi.URLParam(r, "claimId"), req.Actor.actor(), req.Notes)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	c, err := s.engine.Approve(chi.URLParam(r, "claimId"), req.Actor.actor(), req.Notes)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	c, err := s.engine.Reject(chi.URLParam(r, "claimId"), req.Actor.actor(), req.Reason)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleAdjustAmount(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	c, err := s.engine.AdjustAmount(chi.URLParam(r, "claimId"), req.Actor.actor(), req.Amount, req.Reason)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleForceRelease(w http.ResponseWriter, r *http.Request) {
	var req ForceReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	c, err := s.engine.ForceRelease(chi.URLParam(r, "claimId"), req.Actor.actor())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleBatchSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.SummarizeBatch(chi.URLParam(r, "batchId"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleBatchExport(w http.ResponseWriter, r *http.Request) {
	payload, err := s.engine.ExportBatch(chi.URLParam(r, "batchId"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}

// respondEngineError maps the engine's typed failures to HTTP statuses.
func respondEngineError(w http.ResponseWriter, err error) {
	var lockErr *claims.LockedByOtherError
	if errors.As(err, &lockErr) {
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:      "claim is locked by another reviewer",
			Details:    err.Error(),
			LockHolder: lockErr.HolderName,
			LockedAt:   lockErr.Since.Format(time.RFC3339),
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, claims.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, claims.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, claims.ErrReasonRequired), errors.Is(err, claims.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, claims.ErrInvalidTransition),
		errors.Is(err, claims.ErrAlreadyLocked),
		errors.Is(err, claims.ErrNotLockHolder):
		status = http.StatusConflict
	}
	respondError(w, status, err.Error(), nil)
}

func main() {
	server, err := NewServer(os.Getenv("DATABASE_URL"))
	if err != nil {
		logger.Logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	if server.db != nil {
		defer server.db.Close()
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Logger.Info("server starting", "port", port, "openBatch", server.engine.CurrentBatch())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Logger.Error("server shutdown error", "error", err)
	}
	logger.Logger.Info("server stopped")
}
