package monitor

import (
	"net/http"
	"strconv"

	"cronguard/internals/modules/schedule"
	"cronguard/pkg/apperror"
	"cronguard/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service: service,
	}
}

// GET /monitors/{slug}?environment=production
func (h *Handler) GetMonitor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	slug := chi.URLParam(r, "slug")
	env := r.URL.Query().Get("environment")
	if env == "" {
		env = "production"
	}

	m, err := h.service.Get(ctx, slug, env)
	if err != nil {
		utils.FromAppError(w, reqID, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, reqID, "monitor retrieved", toMonitorResponse(m))
}

// GET /monitors?cursor={uuid}&limit={n}
func (h *Handler) ListMonitors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	cursor := uuid.Nil
	if c := r.URL.Query().Get("cursor"); c != "" {
		parsed, err := uuid.Parse(c)
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, reqID, apperror.InvalidInput, "malformed cursor")
			return
		}
		cursor = parsed
	}

	limit := int64(100)
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.ParseInt(l, 10, 32)
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, reqID, apperror.InvalidInput, "malformed limit")
			return
		}
		limit = parsed
	}

	monitors, err := h.service.List(ctx, cursor, int32(limit))
	if err != nil {
		utils.FromAppError(w, reqID, err)
		return
	}

	resp := ListMonitorsResponse{
		Monitors: make([]GetMonitorResponse, 0, len(monitors)),
	}
	for i := range monitors {
		resp.Monitors = append(resp.Monitors, toMonitorResponse(monitors[i]))
	}
	if len(monitors) == int(limit) && len(monitors) > 0 {
		resp.NextCursor = monitors[len(monitors)-1].ID.String()
	}

	utils.WriteJSON(w, http.StatusOK, reqID, "", resp)
}

func toMonitorResponse(m Monitor) GetMonitorResponse {
	resp := GetMonitorResponse{
		Slug:                 m.Slug,
		Environment:          m.Environment,
		CheckinMargin:        m.CheckinMarginMin,
		MaxRuntime:           m.MaxRuntimeMin,
		FailureThreshold:     m.FailureThreshold,
		RecoveryThreshold:    m.RecoveryThreshold,
		Status:               string(m.Status),
		ConsecutiveFailures:  m.ConsecutiveFailures,
		ConsecutiveSuccesses: m.ConsecutiveSuccesses,
	}

	if m.Schedule.Kind == schedule.KindCrontab {
		resp.Schedule = ScheduleResponse{
			Type:     string(schedule.KindCrontab),
			Value:    m.Schedule.Expr,
			Timezone: m.Schedule.Timezone,
		}
	} else {
		resp.Schedule = ScheduleResponse{
			Type:     string(schedule.KindInterval),
			Value:    m.Schedule.Every,
			Unit:     string(m.Schedule.Unit),
			Timezone: m.Schedule.Timezone,
		}
	}

	if !m.LastExpectedAt.IsZero() {
		t := m.LastExpectedAt
		resp.LastExpectedAt = &t
	}
	if m.LastRunID != uuid.Nil {
		resp.LastRunID = m.LastRunID.String()
	}
	return resp
}
