package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
)

type presenceDTO struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(chi.URLParam(r, "userID"))
	rec := h.Presence.Status(r.Context(), userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(presenceDTO{
		UserID: userID.String(),
		Status: string(rec.Status),
	})
}
