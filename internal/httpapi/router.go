// Package httpapi assembles the HTTP surface of the library over its three registries.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"libcirc/internal/catalog"
	"libcirc/internal/circulation"
	"libcirc/internal/membership"
)

// Services are the registries the router exposes.
type Services struct {
	Catalog     catalog.Service
	Membership  membership.Service
	Circulation circulation.Service
}

// NewRouter mounts the public catalogue and login routes, and the staff routes behind
// HTTP Basic authentication.
func NewRouter(svc Services, logger *slog.Logger) http.Handler {
	books := catalog.NewHandler(svc.Catalog)
	users := membership.NewHandler(svc.Membership)
	loans := circulation.NewHandler(svc.Circulation)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))

	r.Group(func(r chi.Router) {
		books.PublicRoutes(r)
		users.PublicRoutes(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(users.RequireStaff)
		books.StaffRoutes(r)
		users.StaffRoutes(r)
		loans.StaffRoutes(r)
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
