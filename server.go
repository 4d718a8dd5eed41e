package main

import (
	"encoding/json"
	"net/http"
	"strings"
)

// writeJSON codifica v como JSON com o status informado.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodifica o corpo da requisição em v.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// digitsOnly remove tudo que não for dígito (útil para telefones e CPF/CNPJ).
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// headerTrim retorna o header "k" já com TrimSpace.
func headerTrim(r *http.Request, k string) string {
	return strings.TrimSpace(r.Header.Get(k))
}
