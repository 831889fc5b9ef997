package coinforge

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/heroiclabs/nakama-common/runtime"
)

// HTTPServer exposes the engine's read surface and the purchase entrypoint
// over a chi router. Mutating gameplay operations (increments, transfers,
// draws attached to sessions) stay on the embedding server's own transport.
type HTTPServer struct {
	logger  runtime.Logger
	engine  Coinforge
	metrics http.Handler
}

func NewHTTPServer(logger runtime.Logger, engine Coinforge, metrics http.Handler) *HTTPServer {
	return &HTTPServer{
		logger:  logger,
		engine:  engine,
		metrics: metrics,
	}
}

func (h *HTTPServer) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/currencies", h.listCurrencies)
		r.Get("/currencies/{currencyID}", h.getCurrency)
		r.Get("/currencies/{currencyID}/options", h.listPurchaseOptions)
		r.Get("/players/{playerID}/balances", h.getBalances)
		r.Get("/containers", h.listContainers)
		r.Get("/containers/{containerID}", h.previewContainer)
		r.Post("/containers/{containerID}/simulate", h.simulateContainer)
		r.Post("/purchases", h.processPurchase)
	})

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	return r
}

func (h *HTTPServer) listCurrencies(w http.ResponseWriter, r *http.Request) {
	currency := h.engine.GetCurrencySystem()
	if currency == nil {
		h.writeError(w, ErrSystemNotAvailable)
		return
	}
	h.writeJSON(w, http.StatusOK, currency.ListCurrencies())
}

func (h *HTTPServer) getCurrency(w http.ResponseWriter, r *http.Request) {
	currency := h.engine.GetCurrencySystem()
	if currency == nil {
		h.writeError(w, ErrSystemNotAvailable)
		return
	}
	definition, err := currency.GetCurrency(chi.URLParam(r, "currencyID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, definition)
}

func (h *HTTPServer) listPurchaseOptions(w http.ResponseWriter, r *http.Request) {
	currency := h.engine.GetCurrencySystem()
	if currency == nil {
		h.writeError(w, ErrSystemNotAvailable)
		return
	}
	options, err := currency.ListPurchaseOptions(chi.URLParam(r, "currencyID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, options)
}

func (h *HTTPServer) getBalances(w http.ResponseWriter, r *http.Request) {
	currency := h.engine.GetCurrencySystem()
	if currency == nil {
		h.writeError(w, ErrSystemNotAvailable)
		return
	}
	playerID, err := strconv.ParseInt(chi.URLParam(r, "playerID"), 10, 64)
	if err != nil {
		h.writeError(w, ErrBadInput)
		return
	}
	balances, err := currency.BalancesSnapshot(r.Context(), h.logger, playerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, balances)
}

func (h *HTTPServer) listContainers(w http.ResponseWriter, r *http.Request) {
	rewards := h.engine.GetRewardsSystem()
	if rewards == nil {
		h.writeError(w, ErrSystemNotAvailable)
		return
	}
	h.writeJSON(w, http.StatusOK, rewards.ListContainers())
}

func (h *HTTPServer) previewContainer(w http.ResponseWriter, r *http.Request) {
	rewards := h.engine.GetRewardsSystem()
	if rewards == nil {
		h.writeError(w, ErrSystemNotAvailable)
		return
	}
	luck := 0.0
	if raw := r.URL.Query().Get("luck"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			h.writeError(w, ErrBadInput)
			return
		}
		luck = parsed
	}
	preview, err := rewards.ContentsPreview(chi.URLParam(r, "containerID"), luck)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, preview)
}

func (h *HTTPServer) simulateContainer(w http.ResponseWriter, r *http.Request) {
	rewards := h.engine.GetRewardsSystem()
	if rewards == nil {
		h.writeError(w, ErrSystemNotAvailable)
		return
	}
	var request struct {
		LuckValues   []float64 `json:"luck_values"`
		DrawsPerLuck int       `json:"draws_per_luck"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, ErrBadInput)
		return
	}
	results, err := rewards.Simulate(h.logger, chi.URLParam(r, "containerID"), request.LuckValues, request.DrawsPerLuck)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, results)
}

func (h *HTTPServer) processPurchase(w http.ResponseWriter, r *http.Request) {
	receipts := h.engine.GetReceiptsSystem()
	if receipts == nil {
		h.writeError(w, ErrSystemNotAvailable)
		return
	}
	var request struct {
		PlayerID  int64  `json:"player_id"`
		ProductID string `json:"product_id"`
		ReceiptID string `json:"receipt_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, ErrBadInput)
		return
	}
	result, err := receipts.ProcessReceipt(r.Context(), h.logger, request.PlayerID, request.ProductID, request.ReceiptID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"result": result.String()})
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response body: %v", err)
	}
}

func (h *HTTPServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var coded *runtime.Error
	if errors.As(err, &coded) {
		switch coded.Code {
		case INVALID_ARGUMENT_ERROR_CODE:
			status = http.StatusBadRequest
		case DEADLINE_EXCEEDED_ERROR_CODE:
			status = http.StatusRequestTimeout
		case NOT_FOUND_ERROR_CODE:
			status = http.StatusNotFound
		case FAILED_PRECONDITION_ERROR_CODE:
			status = http.StatusConflict
		}
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
