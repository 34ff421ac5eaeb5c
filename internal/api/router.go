package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("POST /v1/jobs", h.CreateJob)
	mux.HandleFunc("GET /v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /v1/jobs/{id}/report/success", h.SuccessReport)
	mux.HandleFunc("GET /v1/jobs/{id}/report/failed", h.FailedReport)

	mux.HandleFunc("GET /v1/webhook", h.VerifyWebhook)
	mux.HandleFunc("POST /v1/webhook", h.ReceiveWebhook)

	mux.HandleFunc("GET /v1/chats/{number}", h.GetChat)
	mux.HandleFunc("POST /v1/chats/reply", h.Reply)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("wabulk"))
	})

	return mux
}
