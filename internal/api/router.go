package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/navikt/isaktivitetskrav/internal/obs"
)

var startTime = time.Now()

type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// Deps collects everything the router hands to its handlers.
type Deps struct {
	Cases    CaseReader
	Service  DecisionSubmitter
	Episodes EpisodeConsumer
	Rekey    IdentityRekeyer
	Verifier *Verifier
	Registry *obs.Registry
	Logf     func(string, ...any)
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", SignatureHeader, TimestampHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handleHealth)

	caseHandler := &CasesHandler{Cases: deps.Cases, Service: deps.Service}
	r.Get("/api/v1/cases/{subject}", caseHandler.Current)
	r.Get("/api/v1/cases/{subject}/history", caseHandler.History)
	r.Post("/api/v1/cases/{caseID}/decisions", caseHandler.SubmitDecision)

	webhookHandler := &WebhooksHandler{
		Episodes: deps.Episodes,
		Rekey:    deps.Rekey,
		Verifier: deps.Verifier,
		Logf:     deps.Logf,
	}
	r.Post("/webhooks/episodes", webhookHandler.Episode)
	r.Post("/webhooks/identity", webhookHandler.IdentityChange)

	if deps.Registry != nil {
		metricsHandler := &MetricsHandler{Registry: deps.Registry}
		r.Get("/internal/pipeline-metrics", metricsHandler.Snapshot)
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Version:   getVersion(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func getVersion() string {
	if v := os.Getenv("VERSION"); v != "" {
		return v
	}
	return "dev"
}
