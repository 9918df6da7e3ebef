package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-engine/internal/common"
	"serotonyl.ru/invest-engine/internal/features/ledger"
)

type handler struct {
	deps Deps
}

type payoutResponse struct {
	UserID        int64           `json:"user_id"`
	Outcome       string          `json:"outcome"`
	Total         decimal.Decimal `json:"total"`
	ROIPortion    decimal.Decimal `json:"roi_portion"`
	LevelPortion  decimal.Decimal `json:"level_portion"`
	ForDate       string          `json:"for_date"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
	PostedAt      *time.Time      `json:"posted_at,omitempty"`
}

type ledgerItem struct {
	ID           uuid.UUID       `json:"id"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	ROIPortion   decimal.Decimal `json:"roi_portion"`
	LevelPortion decimal.Decimal `json:"level_portion"`
	ForDate      string          `json:"for_date,omitempty"`
	PostedAt     time.Time       `json:"posted_at"`
	Note         string          `json:"note"`
}

type ledgerPageResponse struct {
	Items      []ledgerItem `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DB.Ping(r.Context()); err != nil {
		log.WithError(err).Warn("healthz: база недоступна")
		writeError(w, http.StatusServiceUnavailable, "база недоступна")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) dashboard(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	f, err := h.deps.Dashboard.Snapshot(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *handler) payout(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	res, err := h.deps.Payout.Run(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}

	resp := payoutResponse{
		UserID:       res.UserID,
		Outcome:      string(res.Outcome),
		Total:        res.Total,
		ROIPortion:   res.ROIPortion,
		LevelPortion: res.LevelPortion,
		ForDate:      res.ForDate.Format("2006-01-02"),
	}
	if res.TransactionID != uuid.Nil {
		txID, postedAt := res.TransactionID, res.PostedAt
		resp.TransactionID = &txID
		resp.PostedAt = &postedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// ledgerPage отдаёт одну страницу журнала; следующую запрашивают с ?cursor=next_cursor.
func (h *handler) ledgerPage(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	params := r.URL.Query()
	q, err := ledger.ParseQuery(id, params.Get("from"), params.Get("to"), params.Get("type"), h.deps.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.deps.Ledger.Page(r.Context(), q, params.Get("cursor"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	resp := ledgerPageResponse{Items: make([]ledgerItem, 0, len(page.Items))}
	for _, tx := range page.Items {
		item := ledgerItem{
			ID:           tx.ID,
			Type:         tx.Type,
			Amount:       tx.Amount,
			ROIPortion:   tx.ROIPortion,
			LevelPortion: tx.LevelPortion,
			PostedAt:     tx.PostedAt.In(h.deps.Location),
			Note:         tx.Note,
		}
		if tx.ForDate != nil {
			item.ForDate = tx.ForDate.Format("2006-01-02")
		}
		resp.Items = append(resp.Items, item)
	}
	if page.Next != nil {
		resp.NextCursor = page.Next.Encode()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) ledgerCSV(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	params := r.URL.Query()
	q, err := ledger.ParseQuery(id, params.Get("from"), params.Get("to"), params.Get("type"), h.deps.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pages := 1
	if raw := params.Get("pages"); raw != "" {
		pages, err = strconv.Atoi(raw)
		if err != nil || pages <= 0 {
			writeError(w, http.StatusBadRequest, "pages должен быть положительным числом")
			return
		}
	}
	pages = min(pages, h.deps.MaxExportPages)

	// Export пишет в w только после загрузки всех страниц, ошибку чтения ещё можно вернуть статусом
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ledger-%d.csv"`, id))
	if _, err := h.deps.Ledger.Export(r.Context(), q, params.Get("q"), pages, w); err != nil {
		w.Header().Del("Content-Disposition")
		writeFailure(w, err)
	}
}

func accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "некорректный id аккаунта")
		return 0, false
	}
	return id, true
}

// writeFailure переводит ошибку домена в HTTP статус.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "аккаунт не найден")
	case errors.Is(err, common.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, common.ErrInvalidCursor.Error())
	case errors.Is(err, common.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "нет доступа")
	case errors.Is(err, common.ErrLedgerIndexMissing):
		writeError(w, http.StatusServiceUnavailable, common.ErrLedgerIndexMissing.Error())
	case errors.Is(err, common.ErrTransient), errors.Is(err, common.ErrConflict):
		writeError(w, http.StatusServiceUnavailable, "временная ошибка, повторите позже")
	default:
		log.WithError(err).Error("Необработанная ошибка HTTP обработчика")
		writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("Не удалось записать JSON ответ")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
