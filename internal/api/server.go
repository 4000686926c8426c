package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the aggregator via REST/JSON for the dashboard frontend.
type Server struct {
	agg              *Aggregator
	failureThreshold int
	srv              *http.Server
	logger           *log.Logger
}

// NewServer returns an unstarted API server.
func NewServer(agg *Aggregator, failureThreshold int) *Server {
	return &Server{
		agg:              agg,
		failureThreshold: failureThreshold,
		logger:           log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the route table. Exposed for httptest.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS middleware for the local frontend
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.HandleFunc("/api/dashboard", s.handleDashboard).Methods("GET")
	r.HandleFunc("/api/offers", s.handleOffers).Methods("GET")
	r.HandleFunc("/api/offers/queue", s.handleQueue).Methods("GET")
	r.HandleFunc("/api/offers/approve", s.handleApprove).Methods("POST")
	r.HandleFunc("/api/offers/reject", s.handleReject).Methods("POST")
	r.HandleFunc("/api/earnings", s.handleEarnings).Methods("GET")
	r.HandleFunc("/api/pins", s.handlePins).Methods("GET")
	r.HandleFunc("/api/wallet", s.handleWallet).Methods("GET")
	r.HandleFunc("/api/activity", s.handleActivity).Methods("GET")
	r.HandleFunc("/api/mode", s.handleSetMode).Methods("POST")
	r.HandleFunc("/api/policy", s.handleUpdatePolicy).Methods("POST")
	r.HandleFunc("/api/hunter/pins", s.handleTrackedPins).Methods("GET")
	r.HandleFunc("/api/hunter/verify", s.handleVerifyNow).Methods("POST")
	r.HandleFunc("/api/hunter/flag", s.handleFlagNow).Methods("POST")

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves until Shutdown is called.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.srv = &http.Server{Addr: addr, Handler: s.Router()}
	s.logger.Printf("API listening on %s", addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	snap, err := s.agg.Dashboard(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.agg.Offers(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, offers)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := s.agg.ApprovalQueue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

type slotIDsRequest struct {
	SlotIDs []uint64 `json:"slot_ids"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req slotIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.agg.ApproveOffers(req.SlotIDs))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req slotIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.agg.RejectOffers(req.SlotIDs))
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	earnings, err := s.agg.Earnings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, earnings)
}

func (s *Server) handlePins(w http.ResponseWriter, r *http.Request) {
	pins, err := s.agg.Pins()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, pins)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.agg.Wallet(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	activity, err := s.agg.Activity(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result := s.agg.SetMode(req.Mode)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	// absent fields keep their current values
	req := struct {
		MinPrice       int64 `json:"min_price"`
		MaxContentSize int64 `json:"max_content_size"`
	}{MinPrice: -1, MaxContentSize: -1}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.agg.UpdatePolicy(req.MinPrice, req.MaxContentSize))
}

func (s *Server) handleTrackedPins(w http.ResponseWriter, r *http.Request) {
	pins, err := s.agg.TrackedPins(s.failureThreshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, pins)
}

func (s *Server) handleVerifyNow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CID    string `json:"cid"`
		Pinner string `json:"pinner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	results, err := s.agg.VerifyNow(r.Context(), req.CID, req.Pinner)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleFlagNow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pinner string `json:"pinner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	outcome, err := s.agg.FlagNow(r.Context(), req.Pinner)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
