package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// Product é um item do catálogo. Preço em centavos; status active|paused.
type Product struct {
	ID         int64     `json:"id"`
	CompanyID  int64     `json:"company_id"`
	Title      string    `json:"title"`
	Slug       string    `json:"slug,omitempty"`
	Status     string    `json:"status"`
	ImageURL   string    `json:"image_url,omitempty"`
	PriceCents int       `json:"price_cents,omitempty"`
	Stock      int       `json:"stock,omitempty"`
	Category   string    `json:"category,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (a *App) mountCatalog(r chi.Router) {
	r.Get("/products", a.listProducts)
	r.Post("/products", a.createProduct)
	r.Put("/products/{id}", a.updateProduct)
	r.Delete("/products/{id}", a.deleteProduct)
}

func (a *App) listProducts(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	rows, err := a.DB.Query(r.Context(),
		`SELECT id,company_id,title,COALESCE(slug,''),status,COALESCE(image_url,''),price_cents,stock,COALESCE(category,''),created_at
		 FROM products
		 WHERE company_id=$1
		 ORDER BY created_at DESC LIMIT 500`,
		companyID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Title, &p.Slug, &p.Status, &p.ImageURL, &p.PriceCents, &p.Stock, &p.Category, &p.CreatedAt); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *App) createProduct(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	var in struct {
		Title      string `json:"title"`
		Slug       string `json:"slug"`
		Status     string `json:"status"`
		ImageURL   string `json:"image_url"`
		PriceCents int    `json:"price_cents"`
		Stock      int    `json:"stock"`
		Category   string `json:"category"`
	}
	if err := decodeJSON(r, &in); err != nil {
		http.Error(w, "invalid json: "+err.Error(), 400)
		return
	}
	if in.Title == "" {
		http.Error(w, "title required", 400)
		return
	}
	if in.Status == "" {
		in.Status = "active"
	}

	var id int64
	var created time.Time
	err := a.DB.QueryRow(r.Context(),
		`INSERT INTO products(company_id,title,slug,status,image_url,price_cents,stock,category)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		 RETURNING id,created_at`,
		companyID, in.Title, in.Slug, in.Status, in.ImageURL, in.PriceCents, in.Stock, in.Category).Scan(&id, &created)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	writeJSON(w, http.StatusOK, Product{
		ID:         id,
		CompanyID:  companyID,
		Title:      in.Title,
		Slug:       in.Slug,
		Status:     in.Status,
		ImageURL:   in.ImageURL,
		PriceCents: in.PriceCents,
		Stock:      in.Stock,
		Category:   in.Category,
		CreatedAt:  created,
	})
}

func (a *App) updateProduct(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var in struct {
		Title      string `json:"title"`
		Slug       string `json:"slug"`
		Status     string `json:"status"`
		ImageURL   string `json:"image_url"`
		PriceCents *int   `json:"price_cents"`
		Stock      *int   `json:"stock"`
		Category   string `json:"category"`
	}
	if err := decodeJSON(r, &in); err != nil {
		http.Error(w, "invalid json: "+err.Error(), 400)
		return
	}
	// COALESCE atualiza só o que veio no payload.
	_, err := a.DB.Exec(r.Context(),
		`UPDATE products
		 SET title=COALESCE(NULLIF($1,''),title),
		     slug=COALESCE(NULLIF($2,''),slug),
		     status=COALESCE(NULLIF($3,''),status),
		     image_url=COALESCE(NULLIF($4,''),image_url),
		     price_cents=COALESCE($5, price_cents),
		     stock=COALESCE($6, stock),
		     category=COALESCE(NULLIF($7,''),category)
		 WHERE id=$8 AND company_id=$9`,
		in.Title, in.Slug, in.Status, in.ImageURL,
		in.PriceCents, in.Stock, in.Category, id, companyID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(204)
}

func (a *App) deleteProduct(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	_, err := a.DB.Exec(r.Context(), `DELETE FROM products WHERE id=$1 AND company_id=$2`, id, companyID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(204)
}
