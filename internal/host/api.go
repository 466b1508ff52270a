package host

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"smartwake/internal/repository"
)

// API 把 Coordinator 的操作暴露给外围应用
type API struct {
	coordinator *Coordinator
	history     *repository.WakeEventsRepository // 可选：唤醒事件历史
	pairingID   string
	logger      *zap.Logger
}

func NewAPI(coordinator *Coordinator, history *repository.WakeEventsRepository, pairingID string, logger *zap.Logger) *API {
	return &API{
		coordinator: coordinator,
		history:     history,
		pairingID:   pairingID,
		logger:      logger,
	}
}

// Routes 构建路由
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/wake/schedule", a.handleSchedule)
	mux.HandleFunc("/wake/cancel", a.handleCancel)
	mux.HandleFunc("/wake/respond", a.handleRespond)
	mux.HandleFunc("/wake/session", a.handleSession)
	mux.HandleFunc("/wake/last-event", a.handleLastEvent)
	mux.HandleFunc("/wake/history", a.handleHistory)
	mux.HandleFunc("/wake/history/export", a.handleHistoryExport)
	return mux
}

type scheduleRequest struct {
	Deadline      time.Time `json:"deadline"`
	WindowSeconds int64     `json:"window_seconds"`
}

func (a *API) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := a.coordinator.ScheduleWake(r.Context(), req.Deadline, time.Duration(req.WindowSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, ErrInvalidSchedule) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.logger.Error("Failed to schedule wake", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to schedule wake")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := a.coordinator.CancelWake(r.Context()); err != nil {
		a.logger.Error("Failed to cancel wake", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel wake")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (a *API) handleRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := a.coordinator.RespondToWake(r.Context()); err != nil {
		switch {
		case errors.Is(err, ErrNoActiveSession), errors.Is(err, ErrNotTriggered):
			writeError(w, http.StatusConflict, err.Error())
		default:
			a.logger.Error("Failed to respond to wake", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to respond to wake")
		}
		return
	}

	writeJSON(w, http.StatusOK, a.coordinator.LastEvent())
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	session := a.coordinator.Session()
	if session == nil {
		writeError(w, http.StatusNotFound, "no session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleLastEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	event := a.coordinator.LastEvent()
	if event == nil {
		writeError(w, http.StatusNotFound, "no wake event")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

const defaultHistoryLimit = 20

func (a *API) historyLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			return limit
		}
	}
	return defaultHistoryLimit
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if a.history == nil {
		writeError(w, http.StatusNotFound, "wake event history disabled")
		return
	}

	records, err := a.history.ListRecentWakeEvents(r.Context(), a.pairingID, a.historyLimit(r))
	if err != nil {
		a.logger.Error("Failed to list wake events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list wake events")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *API) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if a.history == nil {
		writeError(w, http.StatusNotFound, "wake event history disabled")
		return
	}

	records, err := a.history.ListRecentWakeEvents(r.Context(), a.pairingID, a.historyLimit(r))
	if err != nil {
		a.logger.Error("Failed to list wake events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list wake events")
		return
	}

	data, err := repository.GenerateWakeEventsExport(records)
	if err != nil {
		a.logger.Error("Failed to generate wake events export", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate export")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="wake_events.xlsx"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
