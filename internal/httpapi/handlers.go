package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tokosamanda/backend/internal/domain"
	"tokosamanda/backend/internal/service"
)

const dateLayout = "2006-01-02"

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInactiveAccount):
		a.writeError(w, r, http.StatusUnauthorized, err)
		return
	case err != nil:
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	purchase, err := a.service.CreatePurchase(r.Context(), req)
	if err != nil {
		a.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"purchase": purchase})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	a.getTransaction(w, r, domain.KindPurchase)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	a.getTransaction(w, r, domain.KindSale)
}

func (a *API) getTransaction(w http.ResponseWriter, r *http.Request, kind domain.TransactionKind) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	tx, err := a.service.GetTransaction(r.Context(), kind, id)
	if err != nil {
		a.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{string(kind): tx})
}

func (a *API) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	a.listTransactions(w, r, domain.KindPurchase, "purchases")
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	a.listTransactions(w, r, domain.KindSale, "sales")
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request, kind domain.TransactionKind, key string) {
	filter, err := parseTransactionFilter(r)
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	list, err := a.service.ListTransactions(r.Context(), kind, filter)
	if err != nil {
		a.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{key: list})
}

func (a *API) handleDeletePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	result, err := a.service.DeletePurchase(r.Context(), id)
	if err != nil {
		a.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	result, err := a.service.DeleteSale(r.Context(), id)
	if err != nil {
		a.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleProductStock(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	stock, err := a.service.CurrentStock(r.Context(), id)
	if err != nil {
		a.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": id, "current_stock": stock})
}

func (a *API) handleProductLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	card, err := a.service.ProductLedger(r.Context(), id)
	if err != nil {
		a.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (a *API) handleStockReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.StockReport(r.Context())
	if err != nil {
		a.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.LowStock(r.Context())
	if err != nil {
		a.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		a.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

// parseTransactionFilter reads from and to as calendar days in UTC. Both
// bounds are inclusive days.
func parseTransactionFilter(r *http.Request) (domain.TransactionFilter, error) {
	query := r.URL.Query()
	filter := domain.TransactionFilter{
		Limit: parsePositiveLimit(query.Get("limit"), defaultListLimit, maxListLimit),
	}
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		from, err := time.Parse(dateLayout, raw)
		if err != nil {
			return domain.TransactionFilter{}, fmt.Errorf("from must be formatted as YYYY-MM-DD")
		}
		filter.From = &from
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		to, err := time.Parse(dateLayout, raw)
		if err != nil {
			return domain.TransactionFilter{}, fmt.Errorf("to must be formatted as YYYY-MM-DD")
		}
		end := to.AddDate(0, 0, 1)
		filter.To = &end
	}
	return filter, nil
}

// writeLedgerError maps the service error kinds onto HTTP statuses.
func (a *API) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		short      *service.InsufficientStockError
		validation *service.ValidationError
	)
	switch {
	case errors.As(err, &short):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      err.Error(),
			"product_id": short.ProductID,
			"requested":  short.Requested,
			"available":  short.Available,
			"shortfall":  short.Shortfall,
		})
	case errors.As(err, &validation):
		payload := map[string]any{"error": err.Error()}
		if validation.Field != "" {
			payload["field"] = validation.Field
		}
		writeJSON(w, http.StatusBadRequest, payload)
	case errors.Is(err, service.ErrNotFound):
		a.writeError(w, r, http.StatusNotFound, err)
	case errors.Is(err, service.ErrConflict):
		a.writeError(w, r, http.StatusConflict, err)
	default:
		a.writeError(w, r, http.StatusInternalServerError, err)
	}
}
