package app

import (
	"net/http"
	"time"

	middle "cronguard/internals/middleware"
	"cronguard/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func RegisterRoutes(c *Container) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middle.Logger(c.Logger))
	r.Use(middle.RateLimitByIP(300, time.Minute))
	r.Use(middleware.Timeout(c.cfg.Ingest.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		utils.WriteJSON(w, http.StatusOK, middleware.GetReqID(req.Context()), "ok", struct{}{})
	})

	r.Route("/monitors", func(m chi.Router) {
		m.Get("/", c.monitorHandler.ListMonitors)
		m.Get("/{slug}", c.monitorHandler.GetMonitor)

		m.Post("/{slug}/checkins", c.checkinHandler.CreateCheckIn)
		m.Get("/{slug}/checkins", c.checkinHandler.ListCheckIns)
	})

	return r
}
