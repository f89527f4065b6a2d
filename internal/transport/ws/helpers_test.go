package ws_test

import (
	"net/http"

	"github.com/cwrk-planet/coursechat-service/internal/transport/ws"

	"github.com/go-chi/chi/v5"
)

func httpHandler(s *ws.Server) http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.HandleWS)
	return r
}
