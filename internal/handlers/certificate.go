package handlers

import (
	"net/http"

	"github.com/certmint/certmint/internal/certificate"
)

func (h *Handlers) GenerateCertificate(w http.ResponseWriter, r *http.Request) {
	var fields certificate.Fields
	if err := decodeJSON(w, r, &fields); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.certificates.Generate(r.Context(), fields)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, result)
}
