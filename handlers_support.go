package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// SupportArticle é um artigo da central de ajuda (conteúdo global).
type SupportArticle struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Category  string    `json:"category,omitempty"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SupportTicket é um chamado aberto por uma empresa.
type SupportTicket struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *App) mountSupport(r chi.Router) {
	r.Get("/support/articles", a.listArticles)
	r.Get("/support/articles/{slug}", a.getArticle)
	r.Get("/support/tickets", a.listTickets)
	r.Post("/support/tickets", a.createTicket)
}

// GET /support/articles — lista sem o body (visão de índice).
func (a *App) listArticles(w http.ResponseWriter, r *http.Request) {
	rows, err := a.DB.Query(r.Context(),
		`SELECT id,slug,title,COALESCE(category,''),created_at
		 FROM support_articles ORDER BY title`)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	out := []SupportArticle{}
	for rows.Next() {
		var v SupportArticle
		if err := rows.Scan(&v.ID, &v.Slug, &v.Title, &v.Category, &v.CreatedAt); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *App) getArticle(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var v SupportArticle
	err := a.DB.QueryRow(r.Context(),
		`SELECT id,slug,title,COALESCE(category,''),body,created_at
		 FROM support_articles WHERE slug=$1`, slug).
		Scan(&v.ID, &v.Slug, &v.Title, &v.Category, &v.Body, &v.CreatedAt)
	if err != nil {
		http.Error(w, "article not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *App) listTickets(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	rows, err := a.DB.Query(r.Context(),
		`SELECT id,company_id,subject,message,status,created_at
		 FROM support_tickets WHERE company_id=$1 ORDER BY created_at DESC`, companyID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	out := []SupportTicket{}
	for rows.Next() {
		var v SupportTicket
		if err := rows.Scan(&v.ID, &v.CompanyID, &v.Subject, &v.Message, &v.Status, &v.CreatedAt); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *App) createTicket(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	var in struct {
		Subject string `json:"subject"`
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &in); err != nil || in.Subject == "" || in.Message == "" {
		http.Error(w, "subject and message are required", 400)
		return
	}
	var v SupportTicket
	err := a.DB.QueryRow(r.Context(),
		`INSERT INTO support_tickets(company_id,subject,message)
		 VALUES($1,$2,$3) RETURNING id,company_id,subject,message,status,created_at`,
		companyID, in.Subject, in.Message).
		Scan(&v.ID, &v.CompanyID, &v.Subject, &v.Message, &v.Status, &v.CreatedAt)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
