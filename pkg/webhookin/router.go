package webhookin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Router mounts the webhook endpoint, ready to be attached to an
// application router:
//
//	r := chi.NewRouter()
//	r.Mount("/webhooks", webhookin.Router(handler))
func Router(h *Handler) chi.Router {
	if h == nil {
		panic("webhook handler is required")
	}

	r := chi.NewRouter()
	r.Post("/billing", h.ServeHTTP)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}
