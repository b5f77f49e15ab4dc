// Package api exposes the relayer's HTTP surface: intent admission, status
// lookups, telemetry and the operational endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veilpay-hq/relayer/pkg/batchqueue"
	"github.com/veilpay-hq/relayer/pkg/blockchain"
	"github.com/veilpay-hq/relayer/pkg/circuitbreaker"
	"github.com/veilpay-hq/relayer/pkg/logger"
	"github.com/veilpay-hq/relayer/pkg/models"
	"github.com/veilpay-hq/relayer/pkg/sourceledger"
	"github.com/veilpay-hq/relayer/pkg/store"
	"github.com/veilpay-hq/relayer/pkg/telemetry"
)

// Server is the relayer HTTP server.
type Server struct {
	port            string
	logger          logger.Logger
	store           *store.Store
	queue           *batchqueue.Queue
	telemetry       *telemetry.Telemetry
	source          sourceledger.Client
	chains          map[int]*blockchain.ChainConfig
	circuitBreakers map[int]*circuitbreaker.CircuitBreaker
	metricsAPIKey   string
}

// NewServer creates the HTTP server. source may be nil, in which case request
// ids are generated locally instead of by the shielded ledger.
func NewServer(
	port string,
	log logger.Logger,
	st *store.Store,
	queue *batchqueue.Queue,
	tel *telemetry.Telemetry,
	source sourceledger.Client,
	chains map[int]*blockchain.ChainConfig,
	circuitBreakers map[int]*circuitbreaker.CircuitBreaker,
) *Server {
	return &Server{
		port:            port,
		logger:          log,
		store:           st,
		queue:           queue,
		telemetry:       tel,
		source:          source,
		chains:          chains,
		circuitBreakers: circuitBreakers,
		metricsAPIKey:   os.Getenv("METRICS_API_KEY"),
	}
}

// intentResponse is returned from intent admission.
type intentResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// statusResponse is returned from status lookups.
type statusResponse struct {
	RequestID         string `json:"requestId"`
	Status            string `json:"status"`
	PublicChainTxHash string `json:"publicChainTxHash,omitempty"`
	ErrorMessage      string `json:"errorMessage,omitempty"`
}

// Handler builds the route table. Split from Start so tests can drive the
// mux directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/intent", s.handleCreateIntent)
	mux.HandleFunc("/status/", s.handleStatus)
	mux.HandleFunc("/telemetry", s.handleTelemetry)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		for chainID, chain := range s.chains {
			if chain.Client == nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(fmt.Sprintf("Chain %d client not connected", chainID)))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	mux.HandleFunc("/circuit/reset", s.handleCircuitReset)
	mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))
	return mux
}

// Start runs the server until the listener fails.
func (s *Server) Start() {
	s.logger.Info("Starting HTTP server on port %s", s.port)
	if err := http.ListenAndServe(":"+s.port, s.Handler()); err != nil {
		s.logger.Error("HTTP server error: %v", err)
	}
}

// handleCreateIntent admits a transfer intent: validate, obtain a request id
// from the source ledger (or locally), persist the pending record and place
// the intent in the batch queue.
func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var raw models.RawIntent
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, intentResponse{Error: "malformed request body"})
		return
	}

	intent, err := models.ValidateIntent(raw)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, intentResponse{Error: verr.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, intentResponse{Error: err.Error()})
		return
	}

	requestID, sourceErr := s.assignRequestID(r, intent)
	if sourceErr != nil {
		// The shielded leg did not happen, so nothing is queued. The fallback
		// id is returned so the caller has a stable handle for support.
		s.logger.Error("Source ledger intent creation failed: %v", sourceErr)
		writeJSON(w, http.StatusInternalServerError, intentResponse{
			RequestID: requestID,
			Error:     "source ledger unavailable",
		})
		return
	}
	intent.RequestID = requestID

	// Duplicate admission of a known request id is answered with the current
	// record instead of queueing a second execution. A failed read fails the
	// admission: replacing a record we could not rule out would reset its
	// status and retry budget.
	existing, err := s.store.GetTransaction(r.Context(), requestID)
	if err != nil {
		s.logger.Error("Admission check for %s failed: %v", requestID, err)
		writeJSON(w, http.StatusInternalServerError, intentResponse{RequestID: requestID, Error: "admission check failed"})
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusOK, intentResponse{RequestID: requestID, Status: string(existing.Status)})
		return
	}

	rec := models.ProcessedTransaction{
		TxID:      requestID,
		RequestID: requestID,
		ChainID:   intent.ChainID,
		Amount:    intent.Amount,
		Recipient: intent.Recipient,
		Status:    models.StatusPending,
		AleoTxID:  requestID,
	}
	if err := s.store.MarkProcessed(r.Context(), rec); err != nil {
		s.logger.Error("Failed to persist intent %s: %v", requestID, err)
		writeJSON(w, http.StatusInternalServerError, intentResponse{RequestID: requestID, Error: "storage failure"})
		return
	}

	s.queue.Enqueue(intent)
	s.logger.InfoWithChain(intent.ChainID, "Admitted intent %s (%s to %s)",
		requestID, intent.Amount, intent.Recipient)
	writeJSON(w, http.StatusCreated, intentResponse{RequestID: requestID, Status: string(models.StatusPending)})
}

// assignRequestID asks the source ledger to execute the shielded leg and
// returns its transition id. Without a ledger the id is generated locally.
// On ledger failure the fallback id is returned along with the error.
func (s *Server) assignRequestID(r *http.Request, intent models.TransferIntent) (string, error) {
	if s.source == nil {
		return "local-" + uuid.NewString(), nil
	}
	id, err := s.source.CreateIntentID(r.Context(), intent)
	if err != nil {
		return "fallback-" + uuid.NewString(), err
	}
	return id, nil
}

// handleStatus serves GET /status/{requestId}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	requestID := strings.TrimPrefix(r.URL.Path, "/status/")
	if requestID == "" || strings.Contains(requestID, "/") {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Missing request id"))
		return
	}

	rec, err := s.store.GetTransaction(r.Context(), requestID)
	if err != nil {
		s.logger.Error("Status lookup for %s failed: %v", requestID, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if rec == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf("Unknown request id %s", requestID)))
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		RequestID:         rec.RequestID,
		Status:            string(rec.Status),
		PublicChainTxHash: rec.PublicChainTxHash,
		ErrorMessage:      rec.ErrorMessage,
	})
}

// handleTelemetry serves the aggregated health view.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.telemetry.Report())
}

// handleCircuitReset force-closes a chain's circuit breaker.
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	chainIDStr := r.URL.Query().Get("chain")
	if chainIDStr == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Missing chain parameter"))
		return
	}
	chainID, err := strconv.Atoi(chainIDStr)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Invalid chain ID"))
		return
	}

	cb, ok := s.circuitBreakers[chainID]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker for chain %d", chainID)))
		return
	}

	cb.Reset()
	s.logger.NoticeWithChain(chainID, "Circuit breaker reset via admin endpoint")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker for chain %d reset", chainID)))
}

// metricsAuthMiddleware guards the metrics endpoint with a bearer API key.
// With no key configured the endpoint is open.
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}
		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are already written; nothing left to do but note it.
		fmt.Fprintf(os.Stderr, "Error encoding JSON response: %v\n", err)
	}
}
