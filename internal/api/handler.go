package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harrierhq/harrier/internal/devices"
	"github.com/harrierhq/harrier/internal/domain"
	"github.com/harrierhq/harrier/internal/engine"
	"github.com/harrierhq/harrier/internal/repository"
	"github.com/harrierhq/harrier/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	registry *devices.Registry
	engine   *engine.Engine
	mode     domain.EvaluationMode
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, registry *devices.Registry, eng *engine.Engine, mode domain.EvaluationMode, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		registry: registry,
		engine:   eng,
		mode:     mode,
		version:  version,
	}
}

// CustomerRequest is the request body for POST /customers.
type CustomerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateCustomer handles POST /customers.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Name == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "name and email are required")
		return
	}

	c := &domain.Customer{Name: req.Name, Email: req.Email}
	if err := h.repo.CreateCustomer(r.Context(), c); err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetCustomer handles GET /customers/{id}.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.repo.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AccountRequest is the request body for POST /accounts.
type AccountRequest struct {
	CustomerID string  `json:"customerId"`
	Type       string  `json:"type"`
	Balance    float64 `json:"balance,omitempty"`
}

// CreateAccount handles POST /accounts.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.CustomerID == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, "customerId and type are required")
		return
	}
	if _, err := h.repo.GetCustomer(r.Context(), req.CustomerID); err != nil {
		writeRepoError(w, err)
		return
	}

	a := &domain.Account{CustomerID: req.CustomerID, Type: req.Type, Balance: req.Balance}
	if err := h.repo.CreateAccount(r.Context(), a); err != nil {
		// One account per (customer, type): a duplicate lands here.
		writeError(w, http.StatusConflict, "account already exists for this customer and type")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GetAccount handles GET /accounts/{id}.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.repo.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// MerchantRequest is the request body for POST /merchants.
type MerchantRequest struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	RiskTier string `json:"riskTier,omitempty"`
}

// CreateMerchant handles POST /merchants.
func (h *Handler) CreateMerchant(w http.ResponseWriter, r *http.Request) {
	var req MerchantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	m := &domain.Merchant{Name: req.Name, Category: req.Category, RiskTier: req.RiskTier}
	if err := h.repo.CreateMerchant(r.Context(), m); err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GetMerchant handles GET /merchants/{id}.
func (h *Handler) GetMerchant(w http.ResponseWriter, r *http.Request) {
	m, err := h.repo.GetMerchant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DeviceRequest is the request body for POST /devices/resolve.
type DeviceRequest struct {
	CustomerID  string `json:"customerId"`
	Fingerprint string `json:"fingerprint"`
	Label       string `json:"label,omitempty"`
}

// ResolveDevice handles POST /devices/resolve.
func (h *Handler) ResolveDevice(w http.ResponseWriter, r *http.Request) {
	var req DeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.CustomerID == "" || req.Fingerprint == "" {
		writeError(w, http.StatusBadRequest, "customerId and fingerprint are required")
		return
	}

	d, err := h.registry.Resolve(r.Context(), req.CustomerID, req.Fingerprint, req.Label)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListDevices handles GET /customers/{id}/devices.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListDevices(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// TransactionResponse is the response for POST /transactions.
type TransactionResponse struct {
	Transaction *domain.Transaction `json:"transaction"`
	Created     []*domain.Alert     `json:"created"`
	Queued      bool                `json:"queued,omitempty"`
}

// RecordTransaction handles POST /transactions: persist the row, then
// evaluate it inline or hand it to the bus, depending on the configured
// evaluation mode.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "accountId is required")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if req.Currency == "" {
		writeError(w, http.StatusBadRequest, "currency is required")
		return
	}

	account, err := h.repo.GetAccount(ctx, req.AccountID)
	if err != nil {
		writeRepoError(w, err)
		return
	}

	tx := req.ToTransaction(time.Now().UTC())

	// Attach a device before the transaction is recorded, so the row
	// carries the resolved id.
	if req.Fingerprint != "" {
		device, err := h.registry.Resolve(ctx, account.CustomerID, req.Fingerprint, req.DeviceLabel)
		if err != nil {
			writeRepoError(w, err)
			return
		}
		tx.DeviceID = device.ID
	}

	if err := h.repo.CreateTransaction(ctx, tx); err != nil {
		writeRepoError(w, err)
		return
	}

	// Post the balance effect. Rules never assume the balance already
	// reflects this transaction, so ordering relative to evaluation is
	// not a correctness concern.
	if err := h.repo.AdjustBalance(ctx, tx.AccountID, tx.BalanceDelta()); err != nil {
		slog.Error("failed to adjust balance", "account_id", tx.AccountID, "error", err)
	}

	resp := TransactionResponse{Transaction: tx}

	if h.mode == domain.ModeAsync && h.bus != nil {
		payload, _ := json.Marshal(worker.TransactionRecorded{TransactionID: tx.ID})
		if err := h.bus.Publish(ctx, domain.TopicTransactionRecorded, payload); err != nil {
			slog.Error("failed to queue evaluation", "transaction_id", tx.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to queue evaluation")
			return
		}
		resp.Queued = true
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	result, err := h.engine.Evaluate(ctx, tx.ID)
	if err != nil {
		slog.Error("evaluation failed", "transaction_id", tx.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}
	resp.Created = result.Created

	writeJSON(w, http.StatusCreated, resp)
}

// EvaluateTransaction handles POST /transactions/{id}/evaluate. Idempotent:
// a repeat call returns an empty newly-created set.
func (h *Handler) EvaluateTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	result, err := h.engine.Evaluate(r.Context(), txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		slog.Error("evaluation failed", "transaction_id", txID, "error", err)
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetTransaction handles GET /transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.repo.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ListTransactions handles GET /transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListTransactions(r.Context(), queryLimit(r))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListAlerts handles GET /alerts, filterable by status, newest first.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	list, err := h.repo.ListAlerts(r.Context(), status, queryLimit(r))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// AlertStatusRequest is the request body for PATCH /alerts/{id}.
type AlertStatusRequest struct {
	Status string `json:"status"`
}

// UpdateAlertStatus handles PATCH /alerts/{id} (reviewer workflow surface).
func (h *Handler) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	var req AlertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.repo.UpdateAlertStatus(r.Context(), id, req.Status); err != nil {
		writeRepoError(w, err)
		return
	}

	a, err := h.repo.GetAlert(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListNotifications handles GET /customers/{id}/notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListNotifications(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRepoError maps repository errors onto HTTP statuses.
func writeRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("repository error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
