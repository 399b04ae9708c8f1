package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MegaGrindStone/emofelix-web/internal/callsetup"
	"github.com/MegaGrindStone/emofelix-web/internal/handoff"
	"github.com/MegaGrindStone/emofelix-web/internal/services"
	"github.com/go-chi/chi/v5"
)

// HandleSetup processes the call setup form of a relation and redirects to its chat screen.
//
// Voice and video calls are answered with 409 Conflict since they cannot start a session. An
// unknown relation redirects to the relation list, like every failed relation lookup. A chat
// screen of the relation that is still mounted is closed.
func (m Main) HandleSetup(w http.ResponseWriter, r *http.Request) {
	relationID, err := strconv.ParseInt(chi.URLParam(r, "relationID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid relation id", http.StatusBadRequest)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	prefs, err := callsetup.FromValues(r.PostForm)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sessionID := sessionFrom(r.Context())
	store := handoff.NewStore(m.handoff, sessionID, relationID)
	backend := m.backend(tokenFrom(r.Context()))

	res, err := m.preparer.Prepare(r.Context(), store, backend, relationID, prefs)
	switch {
	case err == nil:
	case errors.Is(err, callsetup.ErrInvalidPreferences):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, callsetup.ErrCallTypeLocked):
		http.Error(w, "Voice and video calls are not available yet", http.StatusConflict)
		return
	case errors.Is(err, services.ErrUnauthenticated):
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	case errors.Is(err, callsetup.ErrRelationUnavailable):
		m.logger.Warn("Relation unavailable, redirecting",
			slog.Int64("relationID", relationID),
			slog.String(errLoggerKey, err.Error()))
		http.Redirect(w, r, lovedOnesPath, http.StatusSeeOther)
		return
	default:
		m.logger.Error("Failed to prepare call",
			slog.Int64("relationID", relationID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, internalError, http.StatusInternalServerError)
		return
	}

	// A new call opens a new chat screen, seeded from what was just left in the handoff.
	m.chats.unmount(chatKey(sessionID, relationID))

	http.Redirect(w, r, res.Route, http.StatusSeeOther)
}
