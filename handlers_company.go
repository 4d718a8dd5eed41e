package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// mountCompany registra os endpoints de perfil da empresa. A empresa vem
// das claims do token autenticado.
func (a *App) mountCompany(r chi.Router) {
	r.Get("/company", a.getCompany)
	r.Put("/company", a.updateCompany)
}

// Company é o registro devolvido por getCompany. Campos opcionais são
// ponteiros para sumirem do JSON quando nulos.
type Company struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	TaxID    string  `json:"tax_id"`
	Segmento *string `json:"segmento,omitempty"`
	Telefone *string `json:"telefone,omitempty"`
	Email    *string `json:"email,omitempty"`
	Endereco *string `json:"endereco,omitempty"`
	Cidade   *string `json:"cidade,omitempty"`
	UF       *string `json:"uf,omitempty"`
}

func (a *App) getCompany(w http.ResponseWriter, r *http.Request) {
	_, companyID, err := extractUserFromToken(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	var c Company
	err = a.DB.QueryRow(r.Context(),
		`SELECT id, name, tax_id, segmento, telefone, email, endereco, cidade, uf
		 FROM companies
		 WHERE id=$1`, companyID).
		Scan(&c.ID, &c.Name, &c.TaxID, &c.Segmento, &c.Telefone, &c.Email, &c.Endereco, &c.Cidade, &c.UF)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CompanyInput espelha Company com todos os campos opcionais; COALESCE
// mantém o valor atual do que não vier no payload.
type CompanyInput struct {
	Name     *string `json:"name"`
	TaxID    *string `json:"tax_id"`
	Segmento *string `json:"segmento"`
	Telefone *string `json:"telefone"`
	Email    *string `json:"email"`
	Endereco *string `json:"endereco"`
	Cidade   *string `json:"cidade"`
	UF       *string `json:"uf"`
}

func (a *App) updateCompany(w http.ResponseWriter, r *http.Request) {
	_, companyID, err := extractUserFromToken(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	var in CompanyInput
	if err := decodeJSON(r, &in); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	_, err = a.DB.Exec(r.Context(),
		`UPDATE companies
		 SET name=COALESCE($1, name),
		     tax_id=COALESCE($2, tax_id),
		     segmento=COALESCE($3, segmento),
		     telefone=COALESCE($4, telefone),
		     email=COALESCE($5, email),
		     endereco=COALESCE($6, endereco),
		     cidade=COALESCE($7, cidade),
		     uf=COALESCE($8, uf),
		     updated_at=NOW()
		 WHERE id=$9`,
		in.Name, in.TaxID, in.Segmento, in.Telefone, in.Email, in.Endereco, in.Cidade, in.UF, companyID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
