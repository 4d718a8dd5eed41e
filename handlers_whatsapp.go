package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Rotas do fluxo de conexão WhatsApp do Vendedor IA. O diálogo da UI tem
// três passos (número -> QR -> sucesso); aqui cada passo vira um endpoint
// sobre o ConnectionManager.
func (app *App) mountWhatsApp(r chi.Router) {
	r.Route("/wa/agents/{agent}", func(r chi.Router) {
		r.Get("/reconcile", app.waReconcile)
		r.Post("/connect", app.waConnect)
		r.Get("/status", app.waStatus)
		r.Post("/cancel", app.waCancel)
		r.Delete("/", app.waDisconnect)
	})
}

// agentForCompany confere que o agente pertence ao tenant autenticado.
func (app *App) agentForCompany(r *http.Request, companyID int64) (string, bool) {
	agentID := strings.TrimSpace(chi.URLParam(r, "agent"))
	if agentID == "" {
		return "", false
	}
	var ok bool
	if err := app.DB.QueryRow(r.Context(),
		`SELECT EXISTS(SELECT 1 FROM agents WHERE id=$1 AND company_id=$2)`,
		agentID, companyID).Scan(&ok); err != nil {
		return "", false
	}
	return agentID, ok
}

// GET /wa/agents/{agent}/reconcile — pre-check ao abrir o diálogo.
func (app *App) waReconcile(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	agentID, ok := app.agentForCompany(r, companyID)
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	res, err := app.WA.Reconcile(r.Context(), agentID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /wa/agents/{agent}/connect — body {ddi, number}; responde com o QR.
func (app *App) waConnect(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	agentID, ok := app.agentForCompany(r, companyID)
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	var in struct {
		DDI    string `json:"ddi"`
		Number string `json:"number"`
	}
	if err := decodeJSON(r, &in); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(in.DDI) == "" {
		in.DDI = "+55"
	}

	st, err := app.WA.Connect(r.Context(), agentID, companyID, in.DDI, in.Number)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, errPhoneTooShort) {
			code = http.StatusBadRequest
		}
		http.Error(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /wa/agents/{agent}/status — a UI sonda este endpoint enquanto exibe o QR.
func (app *App) waStatus(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	agentID, ok := app.agentForCompany(r, companyID)
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	if st, ok := app.WA.Status(agentID); ok {
		writeJSON(w, http.StatusOK, st)
		return
	}
	// Sem sessão em andamento: responde com o que está persistido.
	rec, err := app.WA.store.GetByAgent(r.Context(), agentID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, map[string]any{"step": "idle"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"step":  rec.Status,
		"phone": rec.PhoneNumber,
	})
}

// POST /wa/agents/{agent}/cancel — abandona o passo de escaneamento.
func (app *App) waCancel(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	agentID, ok := app.agentForCompany(r, companyID)
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	app.WA.Cancel(agentID)
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /wa/agents/{agent} — desconecta; o estado local sempre termina
// desconectado, mesmo se o gateway falhar.
func (app *App) waDisconnect(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	agentID, ok := app.agentForCompany(r, companyID)
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	if err := app.WA.Disconnect(r.Context(), agentID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
