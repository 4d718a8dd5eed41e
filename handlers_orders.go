package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// Order é um pedido. Os dois status são enums simples; transições validadas
// por orderTransitions/paymentTransitions e registradas no activity_log.
type Order struct {
	ID            int64     `json:"id"`
	CompanyID     int64     `json:"company_id"`
	LeadID        int64     `json:"lead_id,omitempty"`
	TotalCents    int       `json:"total_cents"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	CreatedAt     time.Time `json:"created_at"`
}

type OrderItem struct {
	ID             int64 `json:"id"`
	OrderID        int64 `json:"order_id"`
	ProductID      int64 `json:"product_id"`
	Qty            int   `json:"qty"`
	UnitPriceCents int   `json:"unit_price_cents"`
}

// Ciclo de vida: pending -> confirmed -> shipped -> delivered; canceled é
// terminal e alcançável de qualquer estado não-terminal.
var orderTransitions = map[string][]string{
	"pending":   {"confirmed", "canceled"},
	"confirmed": {"shipped", "canceled"},
	"shipped":   {"delivered", "canceled"},
	"delivered": {},
	"canceled":  {},
}

var paymentTransitions = map[string][]string{
	"pending":  {"paid"},
	"paid":     {"refunded"},
	"refunded": {},
}

func transitionAllowed(table map[string][]string, from, to string) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (a *App) mountOrders(r chi.Router) {
	r.Get("/orders", a.listOrders)
	r.Post("/orders", a.createOrder)
	r.Get("/orders/{id}", a.getOrder)
	r.Put("/orders/{id}/status", a.updateOrderStatus)
	r.Put("/orders/{id}/payment", a.updateOrderPayment)
	r.Get("/orders/{id}/activity", a.orderActivity)
}

func (a *App) listOrders(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	rows, err := a.DB.Query(r.Context(),
		`SELECT id,company_id,COALESCE(lead_id,0),total_cents,status,payment_status,created_at
		 FROM orders WHERE company_id=$1
		 ORDER BY created_at DESC LIMIT 500`, companyID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	out := []Order{}
	for rows.Next() {
		var v Order
		if err := rows.Scan(&v.ID, &v.CompanyID, &v.LeadID, &v.TotalCents, &v.Status, &v.PaymentStatus, &v.CreatedAt); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *App) createOrder(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	var in struct {
		LeadID int64 `json:"lead_id"`
		Items  []struct {
			ProductID      int64 `json:"product_id"`
			Qty            int   `json:"qty"`
			UnitPriceCents int   `json:"unit_price_cents"`
		} `json:"items"`
	}
	if err := decodeJSON(r, &in); err != nil {
		http.Error(w, "invalid json: "+err.Error(), 400)
		return
	}

	total := 0
	for _, it := range in.Items {
		if it.Qty <= 0 {
			http.Error(w, "item qty must be positive", 400)
			return
		}
		total += it.Qty * it.UnitPriceCents
	}

	ctx := r.Context()
	var id int64
	var created time.Time
	err := a.DB.QueryRow(ctx,
		`INSERT INTO orders(company_id,lead_id,total_cents) VALUES($1,NULLIF($2,0),$3)
		 RETURNING id, created_at`,
		companyID, in.LeadID, total).Scan(&id, &created)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	for _, it := range in.Items {
		if _, err := a.DB.Exec(ctx,
			`INSERT INTO order_items(order_id,company_id,product_id,qty,unit_price_cents)
			 VALUES($1,$2,$3,$4,$5)`,
			id, companyID, it.ProductID, it.Qty, it.UnitPriceCents); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
	}
	a.logActivity(ctx, companyID, "order", id, "created", map[string]any{"total_cents": total})

	writeJSON(w, http.StatusOK, Order{
		ID: id, CompanyID: companyID, LeadID: in.LeadID, TotalCents: total,
		Status: "pending", PaymentStatus: "pending", CreatedAt: created,
	})
}

func (a *App) getOrder(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var v Order
	err := a.DB.QueryRow(r.Context(),
		`SELECT id,company_id,COALESCE(lead_id,0),total_cents,status,payment_status,created_at
		 FROM orders WHERE id=$1 AND company_id=$2`, id, companyID).
		Scan(&v.ID, &v.CompanyID, &v.LeadID, &v.TotalCents, &v.Status, &v.PaymentStatus, &v.CreatedAt)
	if err != nil {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	rows, err := a.DB.Query(r.Context(),
		`SELECT id,order_id,COALESCE(product_id,0),qty,unit_price_cents
		 FROM order_items WHERE order_id=$1`, id)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	items := []OrderItem{}
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.UnitPriceCents); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		items = append(items, it)
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": v, "items": items})
}

// PUT /orders/{id}/status — body {"status": "..."}
func (a *App) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	a.updateOrderEnum(w, r, "status", orderTransitions)
}

// PUT /orders/{id}/payment — body {"status": "..."}
func (a *App) updateOrderPayment(w http.ResponseWriter, r *http.Request) {
	a.updateOrderEnum(w, r, "payment_status", paymentTransitions)
}

func (a *App) updateOrderEnum(w http.ResponseWriter, r *http.Request, column string, table map[string][]string) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var in struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &in); err != nil || in.Status == "" {
		http.Error(w, "status required", 400)
		return
	}

	ctx := r.Context()
	var current string
	q := `SELECT status FROM orders WHERE id=$1 AND company_id=$2`
	if column == "payment_status" {
		q = `SELECT payment_status FROM orders WHERE id=$1 AND company_id=$2`
	}
	if err := a.DB.QueryRow(ctx, q, id, companyID).Scan(&current); err != nil {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if !transitionAllowed(table, current, in.Status) {
		http.Error(w, "invalid transition "+current+" -> "+in.Status, http.StatusUnprocessableEntity)
		return
	}

	upd := `UPDATE orders SET status=$1, updated_at=NOW() WHERE id=$2 AND company_id=$3`
	if column == "payment_status" {
		upd = `UPDATE orders SET payment_status=$1, updated_at=NOW() WHERE id=$2 AND company_id=$3`
	}
	if _, err := a.DB.Exec(ctx, upd, in.Status, id, companyID); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	a.logActivity(ctx, companyID, "order", id, column+"_changed", map[string]any{
		"from": current, "to": in.Status,
	})
	w.WriteHeader(204)
}

// GET /orders/{id}/activity — histórico append-only do pedido.
func (a *App) orderActivity(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	rows, err := a.DB.Query(r.Context(),
		`SELECT action, COALESCE(detail,'{}'::jsonb), created_at
		 FROM activity_log
		 WHERE company_id=$1 AND entity='order' AND entity_id=$2
		 ORDER BY created_at`, companyID, id)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	type row struct {
		Action    string         `json:"action"`
		Detail    map[string]any `json:"detail"`
		CreatedAt time.Time      `json:"created_at"`
	}
	out := []row{}
	for rows.Next() {
		var x row
		if err := rows.Scan(&x.Action, &x.Detail, &x.CreatedAt); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		out = append(out, x)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}
