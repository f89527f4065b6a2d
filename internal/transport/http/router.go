package http

import (
	"net/http"
	"time"

	httpmw "github.com/cwrk-planet/coursechat-service/internal/transport/http/middleware"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter mounts the websocket endpoint next to the JSON API. The socket
// route stays outside the response-wrapping middleware so it can hijack.
func NewRouter(h *Handler, ws http.HandlerFunc, opts RouterOptions) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httpmw.RequestID)

	r.Get("/ws", ws)

	r.Group(func(api chi.Router) {
		api.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-User-ID"},
			ExposedHeaders:   []string{httpmw.HeaderRequestID},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		api.Use(httpmw.RequestLogger)

		api.Get("/healthz", h.Health)

		api.Group(func(pr chi.Router) {
			pr.Use(httpmw.AuthMiddleware)
			pr.Use(middlewareChi.Timeout(opts.RequestTimeout))

			pr.Route("/courses/{courseId}", func(cr chi.Router) {
				cr.Get("/messages", h.History)
				cr.Get("/presence", h.Presence)
			})
		})
	})

	return r
}
