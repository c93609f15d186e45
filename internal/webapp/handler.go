package webapp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"groupkeeper/internal/economy"
	"groupkeeper/internal/metrics"
	"groupkeeper/internal/repo"
)

const initDataHeader = "X-Telegram-Init-Data"

// Config holds the mini-app API settings.
type Config struct {
	BotToken string
	MaxAge   time.Duration
	Now      func() time.Time
}

// Handler serves GET /api/wheel_data and POST /api/spin.
type Handler struct {
	rewards *economy.Engine
	ledger  *economy.Ledger
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	mux     *http.ServeMux
}

// NewHandler builds the mini-app API.
func NewHandler(rewards *economy.Engine, ledger *economy.Ledger, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	h := &Handler{
		rewards: rewards,
		ledger:  ledger,
		cfg:     cfg,
		logger:  logger.With("component", "webapp"),
		metrics: m,
		mux:     http.NewServeMux(),
	}
	h.mux.HandleFunc("/api/wheel_data", h.handleWheel)
	h.mux.HandleFunc("/api/spin", h.handleSpin)
	return h
}

// ServeHTTP satisfies http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type spinRequest struct {
	InitData string `json:"initData"`
}

type spinResponse struct {
	Outcome  economy.Outcome `json:"outcome"`
	PrizeID  int64           `json:"prize_id"`
	Name     string          `json:"name,omitempty"`
	Cost     int64           `json:"cost"`
	Vouchers int64           `json:"vouchers"`
}

func (h *Handler) handleWheel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	slices, err := h.rewards.Wheel(r.Context())
	if err != nil {
		h.logger.Error("load wheel", "error", err)
		h.metrics.Error("webapp")
		http.Error(w, "failed to load wheel", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, slices)
}

func (h *Handler) handleSpin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := strings.TrimSpace(r.Header.Get(initDataHeader))
	if raw == "" {
		var req spinRequest
		body, err := io.ReadAll(io.LimitReader(r.Body, 16<<10))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
		}
		raw = req.InitData
	}

	data, err := Validate(raw, h.cfg.BotToken, h.cfg.MaxAge, h.cfg.Now())
	if err != nil {
		h.metrics.Error("webapp_auth")
		status := http.StatusUnauthorized
		if errors.Is(err, ErrExpired) {
			status = http.StatusForbidden
		}
		http.Error(w, err.Error(), status)
		return
	}

	u := data.User
	if _, err := h.ledger.Touch(r.Context(), repo.AccountProfile{
		ID:       u.ID,
		Username: u.Username,
		FullName: strings.TrimSpace(u.FirstName + " " + u.LastName),
	}); err != nil {
		h.logger.Error("touch account", "user_id", u.ID, "error", err)
		http.Error(w, "failed to load account", http.StatusInternalServerError)
		return
	}

	res, err := h.rewards.Spin(r.Context(), u.ID)
	if err != nil {
		h.logger.Error("spin", "user_id", u.ID, "error", err)
		http.Error(w, "spin failed", http.StatusInternalServerError)
		return
	}
	resp := spinResponse{Outcome: res.Outcome, PrizeID: res.EntryID, Name: res.Name, Cost: res.Cost}
	if a, err := h.ledger.Account(r.Context(), u.ID); err == nil {
		resp.Vouchers = a.Vouchers
	}
	h.logger.Info("wheel spun", "user_id", u.ID, "outcome", res.Outcome, "prize_id", res.EntryID)

	status := http.StatusOK
	if res.Outcome == economy.OutcomeInsufficientFunds {
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Warn("encode json response", "error", err)
	}
}
