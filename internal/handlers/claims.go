package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/certmint/certmint/internal/services"
)

type claimRequest struct {
	Email      string `json:"email"`
	ClaimToken string `json:"claimToken"`
}

type verifyClaimResponse struct {
	Valid bool               `json:"valid"`
	Claim verifyClaimSummary `json:"claim"`
	Order verifyOrderSummary `json:"order"`
}

type verifyClaimSummary struct {
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type verifyOrderSummary struct {
	OrderNumber string `json:"orderNumber"`
	Product     string `json:"product,omitempty"`
	SKU         string `json:"sku,omitempty"`
}

type processClaimResponse struct {
	Success bool                 `json:"success"`
	Claim   *services.MintResult `json:"claim"`
}

func (h *Handlers) VerifyClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	claim, err := h.claims.VerifyClaim(ctx, req.Email, req.ClaimToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := verifyClaimResponse{
		Valid: true,
		Claim: verifyClaimSummary{Status: string(claim.Status), ExpiresAt: claim.ExpiresAt},
		Order: verifyOrderSummary{OrderNumber: "#" + claim.OrderID},
	}
	if order := h.claims.OrderForClaim(ctx, claim); order != nil {
		resp.Order = verifyOrderSummary{
			OrderNumber: order.DisplayNumber(),
			Product:     order.ProductName,
			SKU:         order.SKU,
		}
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// ProcessClaim redeems a claim. The response carries the wallet secrets and
// is the only time they leave the service.
func (h *Handlers) ProcessClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.mint.ProcessClaim(ctx, req.Email, req.ClaimToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, r, http.StatusOK, processClaimResponse{Success: true, Claim: result})
}

func (h *Handlers) ClaimStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.claims.GetClaimStatus(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, view)
}
