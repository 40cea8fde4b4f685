package httpserver

import (
	"net/http"

	"go.uber.org/zap"

	"ams_backend/internal/metrics"
	"ams_backend/internal/ratelimit"
	"ams_backend/internal/service"
)

func handleSendMessage(msgSvc *service.MessageService, limiter ratelimit.Limiter, m *metrics.Metrics, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeErrorMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		allowed, err := limiter.Allow(r.Context(), currentUser.ID)
		if err != nil {
			// limiter outage must not block sending
			log.Warn("rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			m.RateLimited()
			writeErrorMessage(w, http.StatusTooManyRequests, "too many messages, slow down")
			return
		}

		var req service.SendInput
		if err := decodeJSON(w, r, &req); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		res, err := msgSvc.Send(r.Context(), currentUser, req)
		if err != nil {
			writeError(w, log, err, "failed to send message")
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}
