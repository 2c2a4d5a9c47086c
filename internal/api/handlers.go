// Package api exposes the case-worker HTTP surface and the inbound feed
// webhooks.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/navikt/isaktivitetskrav/internal/assessment"
	"github.com/navikt/isaktivitetskrav/internal/identity"
	"github.com/navikt/isaktivitetskrav/internal/models"
	"github.com/navikt/isaktivitetskrav/internal/obs"
	"github.com/navikt/isaktivitetskrav/internal/store"
)

const maxWebhookBody = 1 << 20

// CaseReader serves case lookups. *store.CaseStore satisfies it.
type CaseReader interface {
	CurrentBySubject(ctx context.Context, subjectID string) (*models.Case, error)
	HistoryBySubject(ctx context.Context, subjectID string) ([]models.Case, error)
}

// DecisionSubmitter applies case-worker decisions. *assessment.Service
// satisfies it.
type DecisionSubmitter interface {
	SubmitDecision(ctx context.Context, caseID string, in assessment.DecisionInput) (*models.Decision, error)
}

// CasesHandler serves case reads and decision submissions.
type CasesHandler struct {
	Cases   CaseReader
	Service DecisionSubmitter
}

type decisionRequest struct {
	Status    models.CaseStatus      `json:"status"`
	CreatedBy string                 `json:"created_by"`
	Rationale string                 `json:"rationale"`
	Reasons   []models.ReasonCode    `json:"reasons"`
	Document  []models.DocumentBlock `json:"document"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Current returns the subject's open case with its decisions.
func (h *CasesHandler) Current(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subject")

	c, err := h.Cases.CurrentBySubject(r.Context(), subjectID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// History returns the subject's concluded cases, newest first.
func (h *CasesHandler) History(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subject")

	cases, err := h.Cases.HistoryBySubject(r.Context(), subjectID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if cases == nil {
		cases = []models.Case{}
	}
	writeJSON(w, http.StatusOK, cases)
}

// SubmitDecision applies a case worker's decision to a case.
func (h *CasesHandler) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.CreatedBy == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "created_by is required"})
		return
	}

	decision, err := h.Service.SubmitDecision(r.Context(), caseID, assessment.DecisionInput{
		Status:    req.Status,
		CreatedBy: req.CreatedBy,
		Rationale: req.Rationale,
		Reasons:   req.Reasons,
		Document:  req.Document,
	})
	if err != nil {
		var validationErr *models.ValidationError
		if errors.As(err, &validationErr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationErr.Message, Kind: validationErr.Kind})
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, decision)
}

// EpisodeConsumer ingests sick-leave episode facts.
// *assessment.EpisodeService satisfies it.
type EpisodeConsumer interface {
	HandleEpisode(ctx context.Context, ep models.Episode) error
}

// IdentityRekeyer applies identity merges. *identity.RekeyService
// satisfies it.
type IdentityRekeyer interface {
	HandleChange(ctx context.Context, ev identity.ChangeEvent) (int64, error)
}

// WebhooksHandler receives the inbound episode and identity-change feeds.
type WebhooksHandler struct {
	Episodes EpisodeConsumer
	Rekey    IdentityRekeyer
	Verifier *Verifier
	Logf     func(string, ...any)
}

// Episode processes one sick-leave episode fact.
func (h *WebhooksHandler) Episode(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.verified(w, r)
	if !ok {
		return
	}

	var ep models.Episode
	if err := json.Unmarshal(payload, &ep); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid episode payload"})
		return
	}

	if err := h.Episodes.HandleEpisode(r.Context(), ep); err != nil {
		// A malformed fact gets 400 so the feed does not redeliver it.
		if !errors.Is(err, store.ErrValidation) {
			h.logf("ERROR: episode event failed: %v", err)
		}
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// IdentityChange re-keys cases after a subject identifier merge.
func (h *WebhooksHandler) IdentityChange(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.verified(w, r)
	if !ok {
		return
	}

	var ev identity.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid identity change payload"})
		return
	}

	if _, err := h.Rekey.HandleChange(r.Context(), ev); err != nil {
		if errors.Is(err, identity.ErrInactiveIdent) {
			// Consistency violation: acknowledged but not applied, so the
			// feed does not redeliver an event that will never pass.
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		h.logf("ERROR: identity change event failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "identity change processing failed"})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *WebhooksHandler) verified(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return nil, false
	}

	if h.Verifier != nil {
		if err := h.Verifier.VerifyRequest(payload, r.Header.Get(SignatureHeader), r.Header.Get(TimestampHeader)); err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
			return nil, false
		}
	}
	return payload, true
}

func (h *WebhooksHandler) logf(format string, args ...any) {
	if h.Logf != nil {
		h.Logf(format, args...)
	}
}

// MetricsHandler serves the pipeline counter snapshot.
type MetricsHandler struct {
	Registry *obs.Registry
}

func (h *MetricsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.Snapshot())
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, store.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrStaleCase):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "case changed concurrently, retry"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
