// Package api exposes the REST boundary of the feed service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tradebro/marketfeed/cmd/feedd/internal/quotes"
	"github.com/tradebro/marketfeed/pkg/models"
)

// QuoteService is what the handlers need from the aggregation layer.
type QuoteService interface {
	GetQuotes(ctx context.Context, symbols []string, userID string) ([]models.Quote, error)
	Movers(ctx context.Context, kind string) (models.Movers, error)
	Instruments(ctx context.Context) ([]quotes.Instrument, error)
}

type Handler struct {
	svc    QuoteService
	logger *zap.Logger
}

func NewHandler(svc QuoteService, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the REST routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/quotes", h.Quotes)
	mux.HandleFunc("/movers", h.Movers)
	mux.HandleFunc("/instruments", h.Instruments)
	mux.HandleFunc("/healthz", h.Healthz)
}

// Quotes handles GET /quotes?symbols=A,B,C&userId=<optional>.
// Partial or synthetic data is still a 200; 500 is reserved for cache failure.
func (h *Handler) Quotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	symbols := splitSymbols(raw)
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}

	userID := r.URL.Query().Get("userId")

	out, err := h.svc.GetQuotes(r.Context(), symbols, userID)
	if err != nil {
		h.logger.Error("Quote request failed", zap.String("symbols", raw), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "quote store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Movers handles GET /movers?type=gainers|losers.
func (h *Handler) Movers(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")
	if kind == "" {
		kind = "gainers"
	}
	if kind != "gainers" && kind != "losers" {
		writeError(w, http.StatusBadRequest, "type must be gainers or losers")
		return
	}

	out, err := h.svc.Movers(r.Context(), kind)
	if err != nil {
		h.logger.Error("Movers request failed", zap.String("type", kind), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "quote store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Instruments handles GET /instruments.
func (h *Handler) Instruments(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Instruments(r.Context())
	if err != nil {
		h.logger.Error("Instruments request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "quote store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func splitSymbols(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if sym := models.NormalizeSymbol(part); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
