package main

import (
	"net/http"
	"strconv"
)

// companyFromRequest resolve o tenant da requisição: claims do JWT têm
// precedência, com fallback para o header X-Company-ID (integrações
// máquina-a-máquina como o n8n não carregam token de usuário).
func companyFromRequest(r *http.Request) (int64, bool) {
	if _, company, err := extractUserFromToken(r); err == nil && company > 0 {
		return company, true
	}
	if v := headerTrim(r, "X-Company-ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}

// requireCompany é companyFromRequest com resposta 401 embutida.
func requireCompany(w http.ResponseWriter, r *http.Request) (int64, bool) {
	company, ok := companyFromRequest(r)
	if !ok {
		http.Error(w, "missing or invalid credentials", http.StatusUnauthorized)
	}
	return company, ok
}
