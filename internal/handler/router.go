package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter はルーターを生成する。archive が nil の場合、CKCアーカイブのルートは登録しない。
func NewRouter(sessions *SessionHandler, archive *ArchiveHandler) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/retry-decisions", RetryDecision)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessions.CreateSession)
			r.Get("/", sessions.ListSessions)

			r.Route("/{session_id}", func(r chi.Router) {
				r.Delete("/", sessions.DeleteSession)
				r.Post("/failures", sessions.ReportFailure)

				r.Route("/key-requests", func(r chi.Router) {
					r.Post("/", sessions.SubmitKeyRequest)
					r.Get("/", sessions.ListKeyRequests)
					r.Get("/{request_id}", sessions.GetKeyRequest)
					r.Post("/{request_id}/spc", sessions.DeliverSPC)
				})
			})
		})

		if archive != nil {
			r.Route("/assets/{asset_id}/keys", func(r chi.Router) {
				r.Get("/", archive.ListKeys)
				r.Get("/current", archive.GetCurrentKey)
				r.Get("/{generation}", archive.GetKeyByGeneration)
				r.Delete("/{generation}", archive.DisableKey)
			})
		}
	})

	return r
}
