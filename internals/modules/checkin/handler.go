package checkin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"cronguard/internals/modules/monitor"
	"cronguard/pkg/apperror"
	"cronguard/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Handler struct {
	service   *Service
	validator *validator.Validate
}

func NewHandler(service *Service, validator *validator.Validate) *Handler {
	return &Handler{
		service:   service,
		validator: validator,
	}
}

// POST /monitors/{slug}/checkins
func (h *Handler) CreateCheckIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	slug := chi.URLParam(r, "slug")
	if slug == "" {
		utils.WriteError(w, http.StatusBadRequest, reqID, apperror.InvalidInput, "missing monitor slug")
		return
	}

	// decode request body
	var req CreateCheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, reqID, apperror.InvalidInput, "malformed request body")
		return
	}

	// validate request body
	if err := h.validator.Struct(req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, reqID, apperror.InvalidInput, err.Error())
		return
	}

	cmd := IngestCmd{
		Slug:        slug,
		Environment: req.Environment,
		Status:      Status(req.Status),
		DurationSec: req.DurationSeconds,
		ReceivedAt:  time.Now().UTC(),
	}

	if req.CheckInID != "" {
		id, err := uuid.Parse(req.CheckInID)
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, reqID, apperror.InvalidInput, "malformed check_in_id")
			return
		}
		cmd.CheckInID = id
	}

	if req.MonitorConfig != nil {
		sched, err := req.MonitorConfig.Schedule.ToSchedule(req.MonitorConfig.Timezone)
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, reqID, apperror.InvalidInput, err.Error())
			return
		}
		cmd.Config = &monitor.UpsertCmd{
			Schedule:          sched,
			CheckinMarginMin:  req.MonitorConfig.CheckinMargin,
			MaxRuntimeMin:     req.MonitorConfig.MaxRuntime,
			FailureThreshold:  req.MonitorConfig.FailureThreshold,
			RecoveryThreshold: req.MonitorConfig.RecoveryThreshold,
		}
	}

	result, err := h.service.Ingest(ctx, cmd)
	if err != nil {
		utils.FromAppError(w, reqID, err)
		return
	}

	utils.WriteJSON(w, http.StatusAccepted, reqID, "check-in accepted", CreateCheckInResponse{
		CheckInID: result.CheckInID.String(),
	})
}

// GET /monitors/{slug}/checkins?environment={}&limit={}
func (h *Handler) ListCheckIns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	slug := chi.URLParam(r, "slug")
	env := r.URL.Query().Get("environment")
	if env == "" {
		env = "production"
	}

	limit := int64(50)
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.ParseInt(l, 10, 32)
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, reqID, apperror.InvalidInput, "malformed limit")
			return
		}
		limit = parsed
	}

	m, records, err := h.service.ListForMonitor(ctx, slug, env, int32(limit))
	if err != nil {
		utils.FromAppError(w, reqID, err)
		return
	}

	resp := ListCheckInsResponse{
		MonitorSlug: m.Slug,
		Environment: m.Environment,
		CheckIns:    make([]CheckInItem, 0, len(records)),
	}
	for i := range records {
		rec := &records[i]
		item := CheckInItem{
			Status:          string(rec.Status),
			Timestamp:       rec.Timestamp,
			DurationSeconds: rec.DurationSec,
		}
		if rec.CheckInID != uuid.Nil {
			item.CheckInID = rec.CheckInID.String()
		}
		resp.CheckIns = append(resp.CheckIns, item)
	}

	utils.WriteJSON(w, http.StatusOK, reqID, "", resp)
}
