package handlers

import (
	"errors"
	"net/http"

	"github.com/certmint/certmint/internal/services"
)

const (
	codeInternal    = "internal_error"
	codeRateLimited = "rate_limited"
)

type errorResponse struct {
	Error              string `json:"error"`
	Code               string `json:"code"`
	ManualIntervention bool   `json:"manualIntervention,omitempty"`
}

// writeError maps service errors onto HTTP statuses. Upstream failures are
// logged in full and, in production, answered with a generic message.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := h.errorResponse(err)
	logger := h.loggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err, "code", resp.Code, "status", status)
	} else {
		logger.Info("request rejected", "error", err, "code", resp.Code, "status", status)
	}
	h.writeJSON(w, r, status, resp)
}

// writeProviderError is writeError for endpoints that call the email
// provider, where an auth failure is the provider's and not the caller's.
func (h *Handlers) writeProviderError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *services.AuthError
	if errors.As(err, &authErr) {
		h.loggerFromContext(r.Context()).Error("email provider rejected credentials", "error", err)
		h.writeJSON(w, r, http.StatusBadGateway, errorResponse{Error: h.publicMessage(err, "email provider authentication failed"), Code: authErr.Code()})
		return
	}
	h.writeError(w, r, err)
}

func (h *Handlers) errorResponse(err error) (int, errorResponse) {
	var (
		validation *services.ValidationError
		notFound   *services.NotFoundError
		already    *services.AlreadyClaimedError
		expired    *services.ExpiredError
		duplicate  *services.DuplicateClaimError
		authErr    *services.AuthError
		delivery   *services.DeliveryError
		upstream   *services.UpstreamError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, errorResponse{Error: validation.Error(), Code: validation.Code()}
	case errors.As(err, &notFound):
		return http.StatusNotFound, errorResponse{Error: notFound.Error(), Code: notFound.Code()}
	case errors.As(err, &already):
		return http.StatusConflict, errorResponse{Error: already.Error(), Code: already.Code()}
	case errors.As(err, &expired):
		return http.StatusBadRequest, errorResponse{Error: expired.Error(), Code: expired.Code()}
	case errors.As(err, &duplicate):
		return http.StatusConflict, errorResponse{Error: duplicate.Error(), Code: duplicate.Code()}
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: authErr.Code()}
	case errors.As(err, &delivery):
		return http.StatusBadGateway, errorResponse{Error: h.publicMessage(err, "email delivery failed"), Code: delivery.Code()}
	case errors.As(err, &upstream):
		return http.StatusBadGateway, errorResponse{
			Error:              h.publicMessage(err, "upstream service failure"),
			Code:               upstream.Code(),
			ManualIntervention: upstream.ManualIntervention,
		}
	default:
		return http.StatusInternalServerError, errorResponse{Error: h.publicMessage(err, "internal server error"), Code: codeInternal}
	}
}

func (h *Handlers) publicMessage(err error, generic string) string {
	if h.config == nil || h.config.IsProduction() {
		return generic
	}
	return err.Error()
}
