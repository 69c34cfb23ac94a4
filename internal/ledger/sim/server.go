// server.go - REST front end for the simulator.
//
// Serves the endpoints ledger.RestClient speaks, plus /health and /metrics
// for local operation. Wire shapes come from the ledger package so the client
// and this server cannot drift apart.

package sim

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kilogold/confidential-withdraw/internal/ledger"
)

// Server exposes a Sim over HTTP.
type Server struct {
	sim     *Sim
	limiter *PeerLimiter
	logger  *zap.Logger
	started time.Time
}

// NewServer wraps the simulator for HTTP serving.
func NewServer(s *Sim, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		sim:     s,
		limiter: NewPeerLimiter(20, 100*time.Millisecond),
		logger:  logger,
		started: time.Now(),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/submit", s.handleSubmit)
	mux.HandleFunc("/confirmation", s.handleConfirmation)
	mux.HandleFunc("/account", s.handleAccount)
	mux.HandleFunc("/rent", s.handleRent)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

// ListenAndServe runs the server on addr until it fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.logger.Info("ledger simulator listening", zap.String("addr", addr))
	return errors.Wrap(srv.ListenAndServe(), "ledger server")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ledger.SubmitResponse{Error: "POST only"})
		return
	}
	if !s.limiter.Allow(r.RemoteAddr) {
		writeJSON(w, http.StatusTooManyRequests, ledger.SubmitResponse{Error: "submission rate exceeded"})
		return
	}
	var req ledger.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ledger.SubmitResponse{Error: err.Error()})
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Transaction)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ledger.SubmitResponse{Error: err.Error()})
		return
	}
	tx, err := ledger.DecodeTransaction(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ledger.SubmitResponse{Error: err.Error()})
		return
	}
	id, err := s.sim.Submit(r.Context(), tx)
	switch {
	case errors.Is(err, ledger.ErrTransactionTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, ledger.SubmitResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusUnprocessableEntity, ledger.SubmitResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, ledger.SubmitResponse{TxID: string(id)})
	}
}

func (s *Server) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	id := ledger.TxID(r.URL.Query().Get("id"))
	err := s.sim.AwaitConfirmation(r.Context(), id)
	switch {
	case errors.Is(err, ledger.ErrUnknownTransaction):
		writeJSON(w, http.StatusOK, ledger.ConfirmationResponse{Known: false})
	case err != nil:
		writeJSON(w, http.StatusOK, ledger.ConfirmationResponse{Known: true, Confirmed: false, Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, ledger.ConfirmationResponse{Known: true, Confirmed: true})
	}
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(r.URL.Query().Get("address"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	data, err := s.sim.ReadAccount(r.Context(), addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	funding, _ := s.sim.AccountFunding(addr)
	writeJSON(w, http.StatusOK, ledger.AccountResponse{
		Funding: funding,
		Data:    base64.StdEncoding.EncodeToString(data),
	})
}

func (s *Server) handleRent(w http.ResponseWriter, r *http.Request) {
	size, err := strconv.ParseUint(r.URL.Query().Get("size"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid size"})
		return
	}
	funding, _ := s.sim.MinimumPersistenceFunding(r.Context(), size)
	writeJSON(w, http.StatusOK, ledger.RentResponse{Funding: funding})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.Metrics())
}
