package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// Lead é um card do funil. O kanban da UI agrupa por stage.
type Lead struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Source    string    `json:"source,omitempty"`
	Stage     string    `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
}

// Colunas do funil, na ordem do kanban. "perdido" fica fora do fluxo feliz
// mas é alcançável de qualquer coluna.
var leadStages = []string{"novo", "contato", "negociacao", "cliente", "perdido"}

func validStage(s string) bool {
	for _, st := range leadStages {
		if st == s {
			return true
		}
	}
	return false
}

func (a *App) mountLeads(r chi.Router) {
	r.Get("/leads", a.listLeads)
	r.Get("/leads/funnel", a.leadFunnel)
	r.Post("/leads", a.createLead)
	r.Put("/leads/{id}/stage", a.moveLeadStage)
}

func (a *App) listLeads(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	rows, err := a.DB.Query(r.Context(),
		`SELECT id,company_id,COALESCE(name,''),COALESCE(phone,''),COALESCE(email,''),COALESCE(source,''),stage,created_at
		 FROM leads WHERE company_id=$1
		 ORDER BY created_at DESC LIMIT 500`, companyID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	out := []Lead{}
	for rows.Next() {
		var v Lead
		if err := rows.Scan(&v.ID, &v.CompanyID, &v.Name, &v.Phone, &v.Email, &v.Source, &v.Stage, &v.CreatedAt); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// GET /leads/funnel — leads agrupados por coluna, já na ordem do kanban.
func (a *App) leadFunnel(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	rows, err := a.DB.Query(r.Context(),
		`SELECT id,company_id,COALESCE(name,''),COALESCE(phone,''),COALESCE(email,''),COALESCE(source,''),stage,created_at
		 FROM leads WHERE company_id=$1
		 ORDER BY created_at DESC LIMIT 1000`, companyID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	byStage := map[string][]Lead{}
	for rows.Next() {
		var v Lead
		if err := rows.Scan(&v.ID, &v.CompanyID, &v.Name, &v.Phone, &v.Email, &v.Source, &v.Stage, &v.CreatedAt); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		byStage[v.Stage] = append(byStage[v.Stage], v)
	}

	cols := make([]map[string]any, 0, len(leadStages))
	for _, st := range leadStages {
		items := byStage[st]
		if items == nil {
			items = []Lead{}
		}
		cols = append(cols, map[string]any{"stage": st, "items": items})
	}
	writeJSON(w, http.StatusOK, map[string]any{"columns": cols})
}

func (a *App) createLead(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	var in struct {
		Name   string `json:"name"`
		Phone  string `json:"phone"`
		Email  string `json:"email"`
		Source string `json:"source"`
		Stage  string `json:"stage"`
	}
	if err := decodeJSON(r, &in); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if in.Stage == "" {
		in.Stage = "novo"
	}
	if !validStage(in.Stage) {
		http.Error(w, "invalid stage", 400)
		return
	}
	var id int64
	var created time.Time
	err := a.DB.QueryRow(r.Context(),
		`INSERT INTO leads(company_id,name,phone,email,source,stage)
		 VALUES($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		companyID, in.Name, in.Phone, in.Email, in.Source, in.Stage).Scan(&id, &created)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	a.logActivity(r.Context(), companyID, "lead", id, "created", map[string]any{"stage": in.Stage})
	writeJSON(w, http.StatusOK, Lead{
		ID: id, CompanyID: companyID, Name: in.Name, Phone: in.Phone,
		Email: in.Email, Source: in.Source, Stage: in.Stage, CreatedAt: created,
	})
}

// PUT /leads/{id}/stage — movimento de card no kanban; registra histórico.
func (a *App) moveLeadStage(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var in struct {
		Stage string `json:"stage"`
	}
	if err := decodeJSON(r, &in); err != nil || !validStage(in.Stage) {
		http.Error(w, "invalid stage", 400)
		return
	}

	ctx := r.Context()
	var current string
	if err := a.DB.QueryRow(ctx,
		`SELECT stage FROM leads WHERE id=$1 AND company_id=$2`, id, companyID).Scan(&current); err != nil {
		http.Error(w, "lead not found", http.StatusNotFound)
		return
	}
	if current == in.Stage {
		w.WriteHeader(204)
		return
	}
	if _, err := a.DB.Exec(ctx,
		`UPDATE leads SET stage=$1, updated_at=NOW() WHERE id=$2 AND company_id=$3`,
		in.Stage, id, companyID); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	a.logActivity(ctx, companyID, "lead", id, "stage_changed", map[string]any{
		"from": current, "to": in.Stage,
	})
	w.WriteHeader(204)
}
