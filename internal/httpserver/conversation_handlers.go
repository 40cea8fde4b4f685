package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ams_backend/internal/domain"
	"ams_backend/internal/service"
)

func handleListConversations(convSvc *service.ConversationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := convSvc.ListConversations(r.Context(), CurrentUser(r))
		if err != nil {
			writeError(w, log, err, "failed to fetch conversations")
			return
		}
		writeJSON(w, http.StatusOK, convs)
	}
}

func handleUnreadSummary(convSvc *service.ConversationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := convSvc.UnreadSummary(r.Context(), CurrentUser(r))
		if err != nil {
			writeError(w, log, err, "failed to fetch unread counts")
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

func handleListMessagesWith(convSvc *service.ConversationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := convSvc.ListMessagesWith(r.Context(), CurrentUser(r), chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, log, err, "failed to fetch messages")
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleListGroupMessages(convSvc *service.ConversationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := convSvc.ListGroupMessages(r.Context(), CurrentUser(r))
		if err != nil {
			writeError(w, log, err, "failed to fetch group messages")
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleListBroadcasts(convSvc *service.ConversationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := convSvc.ListBroadcasts(r.Context(), CurrentUser(r))
		if err != nil {
			writeError(w, log, err, "failed to fetch broadcasts")
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

type markReadResponse struct {
	CounterpartID string `json:"counterpartId"`
	Updated       int64  `json:"updated"`
}

func handleMarkRead(convSvc *service.ConversationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counterpart := chi.URLParam(r, "userID")
		n, err := convSvc.MarkRead(r.Context(), CurrentUser(r), counterpart)
		if err != nil {
			writeError(w, log, err, "failed to mark messages as read")
			return
		}
		writeJSON(w, http.StatusOK, markReadResponse{CounterpartID: counterpart, Updated: n})
	}
}

func handleMarkGroupRead(convSvc *service.ConversationService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := convSvc.MarkGroupRead(r.Context(), CurrentUser(r))
		if err != nil {
			writeError(w, log, err, "failed to mark group messages as read")
			return
		}
		writeJSON(w, http.StatusOK, markReadResponse{CounterpartID: domain.GroupCounterpart, Updated: n})
	}
}
