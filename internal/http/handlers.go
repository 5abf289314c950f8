package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"cestinha/internal/core"
	"cestinha/internal/log"
	"cestinha/internal/remote"
	"cestinha/internal/storage"
)

// handleHistory serves the shared purchase history, newest first.
// Pages are cached briefly per limit to keep repeated refreshes off
// the database.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	limit := s.defaultLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	key := strconv.Itoa(limit)
	if recs, ok := s.historyCache.Get(key); ok {
		writeJSON(w, http.StatusOK, recs)
		return
	}

	purchases, err := s.store.ListRecent(r.Context(), limit)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "History query failed",
			log.FieldError, err, "limit", limit)
		writeError(w, http.StatusInternalServerError, "failed to load history", err.Error())
		return
	}

	recs := make([]remote.PurchaseRecord, 0, len(purchases))
	for _, p := range purchases {
		recs = append(recs, remote.RecordFromPurchase(p))
	}
	s.historyCache.Set(key, recs)

	writeJSON(w, http.StatusOK, recs)
}

// handleInsertPurchase stores a finalized purchase snapshot.
func (s *Server) handleInsertPurchase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var rec remote.PurchaseRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if rec.Date.IsZero() {
		writeError(w, http.StatusBadRequest, "missing required field", "date")
		return
	}
	if rec.Total.Cents <= 0 {
		writeError(w, http.StatusBadRequest, "missing required field", "total")
		return
	}
	if len(rec.Items) == 0 {
		writeError(w, http.StatusBadRequest, "missing required field", "items")
		return
	}

	p := rec.Purchase()
	if p.ItemCount == 0 {
		p.ItemCount = len(p.Items)
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid purchase", err.Error())
		return
	}

	id, err := s.store.InsertPurchase(r.Context(), p)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Purchase insert failed",
			log.FieldError, err, log.FieldPurchaseID, p.ID)
		writeError(w, http.StatusInternalServerError, "failed to save purchase", err.Error())
		return
	}

	s.invalidateHistory()
	writeJSON(w, http.StatusCreated, remote.InsertResponse{Message: "purchase saved", ID: id})
}

// handleFieldUpdate patches one whitelisted column of a stored
// purchase. The value is decoded according to the named field.
func (s *Server) handleFieldUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req remote.FieldUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.ID == 0 {
		writeError(w, http.StatusBadRequest, "missing required field", "id")
		return
	}

	value, err := decodeFieldValue(req.Field, req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid field value", err.Error())
		return
	}

	if err := s.store.UpdatePurchaseField(r.Context(), req.ID, req.Field, value); err != nil {
		if errors.Is(err, storage.ErrUnknownField) {
			writeError(w, http.StatusBadRequest, "unknown field", req.Field)
			return
		}
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Field update failed",
			log.FieldError, err, "id", req.ID, "field", req.Field)
		writeError(w, http.StatusInternalServerError, "failed to update purchase", err.Error())
		return
	}

	s.invalidateHistory()
	writeJSON(w, http.StatusOK, map[string]string{"message": "field updated"})
}

// decodeFieldValue turns the raw JSON value into the type the storage
// layer expects for the field. Null clears either column.
func decodeFieldValue(field string, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	switch field {
	case "payment_method":
		var method string
		if err := json.Unmarshal(raw, &method); err != nil {
			return nil, err
		}
		if !core.PaymentMethod(method).Valid() {
			return nil, errors.New("unknown payment method: " + method)
		}
		return method, nil
	case "budget_goal":
		var m core.Money
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m.Cents, nil
	default:
		// Let the storage whitelist produce the canonical error.
		return string(raw), nil
	}
}

// invalidateHistory drops every cached history page after a write.
func (s *Server) invalidateHistory() {
	s.historyCache.Clear()
}
