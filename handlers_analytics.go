package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *App) mountAnalytics(r chi.Router) {
	r.Get("/analytics/summary", a.analyticsSummary)
	r.Get("/analytics/sales-by-hour", a.analyticsSalesByHour)
	r.Get("/analytics/top-products", a.analyticsTopProducts)
}

// GET /analytics/summary — números do dashboard.
func (a *App) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var leads, orders int64
	var revenue int64
	_ = a.DB.QueryRow(ctx, `SELECT COUNT(*) FROM leads WHERE company_id=$1`, companyID).Scan(&leads)
	_ = a.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE company_id=$1`, companyID).Scan(&orders)
	_ = a.DB.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_cents),0) FROM orders WHERE company_id=$1 AND payment_status='paid'`,
		companyID).Scan(&revenue)

	// Conversão = pedidos entregues / leads (evita divisão por zero)
	var delivered int64
	_ = a.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE company_id=$1 AND status='delivered'`, companyID).Scan(&delivered)
	conv := 0.0
	if leads > 0 {
		conv = float64(delivered) / float64(leads)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"leads":            leads,
		"orders":           orders,
		"revenue_cents":    revenue,
		"delivered_orders": delivered,
		"conversion_rate":  conv,
	})
}

// GET /analytics/sales-by-hour — volume por hora dos últimos 7 dias.
func (a *App) analyticsSalesByHour(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	rows, err := a.DB.Query(r.Context(),
		`SELECT EXTRACT(HOUR FROM created_at)::int AS h,
		        COUNT(*), COALESCE(SUM(total_cents),0)
		 FROM orders
		 WHERE company_id=$1 AND created_at >= NOW() - INTERVAL '7 days'
		 GROUP BY h ORDER BY h`, companyID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	type bucket struct {
		Hour       int   `json:"hour"`
		Orders     int64 `json:"orders"`
		TotalCents int64 `json:"total_cents"`
	}
	out := []bucket{}
	for rows.Next() {
		var b bucket
		if err := rows.Scan(&b.Hour, &b.Orders, &b.TotalCents); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		out = append(out, b)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// GET /analytics/top-products — mais vendidos por quantidade.
func (a *App) analyticsTopProducts(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	rows, err := a.DB.Query(r.Context(),
		`SELECT COALESCE(p.id,0), COALESCE(p.title,'(removido)'),
		        SUM(oi.qty)::bigint, SUM(oi.qty*oi.unit_price_cents)::bigint
		 FROM order_items oi
		 LEFT JOIN products p ON p.id = oi.product_id
		 WHERE oi.company_id=$1
		 GROUP BY p.id, p.title
		 ORDER BY 3 DESC
		 LIMIT 10`, companyID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	type row struct {
		ProductID  int64  `json:"product_id"`
		Title      string `json:"title"`
		Qty        int64  `json:"qty"`
		TotalCents int64  `json:"total_cents"`
	}
	out := []row{}
	for rows.Next() {
		var v row
		if err := rows.Scan(&v.ProductID, &v.Title, &v.Qty, &v.TotalCents); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}
