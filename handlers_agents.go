package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Agent é o vendedor IA de uma empresa. O id (uuid) também nomeia a
// instância WhatsApp no gateway.
type Agent struct {
	ID                 string    `json:"id"`
	CompanyID          int64     `json:"company_id"`
	Name               string    `json:"name"`
	CommunicationStyle string    `json:"communication_style,omitempty"`
	Sector             string    `json:"sector,omitempty"`
	ProfileType        string    `json:"profile_type,omitempty"`
	ProfileCustom      string    `json:"profile_custom,omitempty"`
	BasePrompt         string    `json:"base_prompt,omitempty"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

func (a *App) mountAgents(r chi.Router) {
	r.Get("/agents", a.listAgents)
	r.Post("/agents", a.createAgent)
	r.Get("/agents/{id}", a.getAgent)
	r.Put("/agents/{id}", a.updateAgent)
	r.Delete("/agents/{id}", a.deleteAgent)
}

const agentCols = `id,company_id,name,COALESCE(communication_style,''),COALESCE(sector,''),
	COALESCE(profile_type,''),COALESCE(profile_custom,''),COALESCE(base_prompt,''),status,created_at`

func (a *App) listAgents(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	rows, err := a.DB.Query(r.Context(),
		`SELECT `+agentCols+` FROM agents WHERE company_id=$1 ORDER BY created_at DESC`, companyID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	out := []Agent{}
	for rows.Next() {
		var v Agent
		if err := rows.Scan(&v.ID, &v.CompanyID, &v.Name, &v.CommunicationStyle, &v.Sector,
			&v.ProfileType, &v.ProfileCustom, &v.BasePrompt, &v.Status, &v.CreatedAt); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *App) createAgent(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	var in struct {
		Name               string `json:"name"`
		CommunicationStyle string `json:"communication_style"`
		Sector             string `json:"sector"`
		ProfileType        string `json:"profile_type"`
		ProfileCustom      string `json:"profile_custom"`
		BasePrompt         string `json:"base_prompt"`
	}
	if err := decodeJSON(r, &in); err != nil || in.Name == "" {
		http.Error(w, "name is required", 400)
		return
	}
	id := uuid.NewString()
	var created time.Time
	err := a.DB.QueryRow(r.Context(),
		`INSERT INTO agents(id,company_id,name,communication_style,sector,profile_type,profile_custom,base_prompt)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8) RETURNING created_at`,
		id, companyID, in.Name, in.CommunicationStyle, in.Sector, in.ProfileType, in.ProfileCustom, in.BasePrompt).
		Scan(&created)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	a.logActivity(r.Context(), companyID, "agent", 0, "created", map[string]any{"agent_id": id, "name": in.Name})
	writeJSON(w, http.StatusOK, Agent{
		ID: id, CompanyID: companyID, Name: in.Name, CommunicationStyle: in.CommunicationStyle,
		Sector: in.Sector, ProfileType: in.ProfileType, ProfileCustom: in.ProfileCustom,
		BasePrompt: in.BasePrompt, Status: "active", CreatedAt: created,
	})
}

func (a *App) getAgent(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var v Agent
	err := a.DB.QueryRow(r.Context(),
		`SELECT `+agentCols+` FROM agents WHERE id=$1 AND company_id=$2`, id, companyID).
		Scan(&v.ID, &v.CompanyID, &v.Name, &v.CommunicationStyle, &v.Sector,
			&v.ProfileType, &v.ProfileCustom, &v.BasePrompt, &v.Status, &v.CreatedAt)
	if err != nil {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *App) updateAgent(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var in struct {
		Name               *string `json:"name"`
		CommunicationStyle *string `json:"communication_style"`
		Sector             *string `json:"sector"`
		ProfileType        *string `json:"profile_type"`
		ProfileCustom      *string `json:"profile_custom"`
		BasePrompt         *string `json:"base_prompt"`
		Status             *string `json:"status"`
	}
	if err := decodeJSON(r, &in); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	ct, err := a.DB.Exec(r.Context(),
		`UPDATE agents SET
			name                = COALESCE($1, name),
			communication_style = COALESCE($2, communication_style),
			sector              = COALESCE($3, sector),
			profile_type        = COALESCE($4, profile_type),
			profile_custom      = COALESCE($5, profile_custom),
			base_prompt         = COALESCE($6, base_prompt),
			status              = COALESCE($7, status),
			updated_at          = NOW()
		 WHERE id=$8 AND company_id=$9`,
		in.Name, in.CommunicationStyle, in.Sector, in.ProfileType, in.ProfileCustom,
		in.BasePrompt, in.Status, id, companyID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if ct.RowsAffected() == 0 {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	a.getAgent(w, r)
}

// DELETE /agents/{id} — derruba a sessão WhatsApp antes de remover.
func (a *App) deleteAgent(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var exists bool
	_ = a.DB.QueryRow(r.Context(),
		`SELECT EXISTS(SELECT 1 FROM agents WHERE id=$1 AND company_id=$2)`, id, companyID).Scan(&exists)
	if !exists {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	_ = a.WA.Disconnect(r.Context(), id)
	if _, err := a.DB.Exec(r.Context(),
		`DELETE FROM agents WHERE id=$1 AND company_id=$2`, id, companyID); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	a.logActivity(r.Context(), companyID, "agent", 0, "deleted", map[string]any{"agent_id": id})
	w.WriteHeader(204)
}
