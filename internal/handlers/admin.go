package handlers

import (
	"errors"
	"net/http"
)

type adminLoginRequest struct {
	Token string `json:"token"`
}

type testEmailRequest struct {
	To string `json:"to"`
}

// RequireAdmin rejects requests without a valid admin bearer token.
func (h *Handlers) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.admin.Authorize(r.Context(), bearerToken(r)); err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	sess, err := h.admin.Login(r.Context(), req.Token, h.proxies.clientAddr(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, r, http.StatusOK, sess)
}

func (h *Handlers) AdminLogout(w http.ResponseWriter, r *http.Request) {
	h.admin.Logout(r.Context(), bearerToken(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AdminStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.admin.Status(r.Context()))
}

func (h *Handlers) DebugEnvironment(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.admin.Environment())
}

func (h *Handlers) DebugGraphToken(w http.ResponseWriter, r *http.Request) {
	info, err := h.admin.GraphToken(r.Context())
	if err != nil {
		h.writeProviderError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"token":   info,
	})
}

// TestEmail sends a diagnostic email. The body is optional.
func (h *Handlers) TestEmail(w http.ResponseWriter, r *http.Request) {
	var req testEmailRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		h.writeError(w, r, err)
		return
	}

	to, err := h.admin.SendTestEmail(r.Context(), req.To)
	if err != nil {
		h.writeProviderError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"to":      to,
	})
}

func (h *Handlers) DispatchOutbox(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.DispatchOutbox(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, stats)
}
