package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// mountResolve registra a rota de descoberta de empresa por CPF/CNPJ,
// usada por integrações externas (n8n etc.) para obter o company_id.
func (a *App) mountResolve(r chi.Router) {
	r.Get("/companies/resolve/{tax_id}", a.resolveCompany)
}

// GET /companies/resolve/{tax_id} — o identificador pode vir com pontuação.
func (a *App) resolveCompany(w http.ResponseWriter, r *http.Request) {
	digits := digitsOnly(chi.URLParam(r, "tax_id"))
	if digits == "" {
		http.Error(w, "invalid tax_id", http.StatusBadRequest)
		return
	}

	var companyID int64
	err := a.DB.QueryRow(r.Context(), `SELECT id FROM companies WHERE tax_id=$1`, digits).Scan(&companyID)
	if err != nil {
		http.Error(w, "company not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"company_id": companyID})
}
