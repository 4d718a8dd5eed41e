package main

// Auth: registro, login, refresh e perfil com JWT + bcrypt.
// Cada registro cria a empresa do usuário. Tokens carregam user_id/company_id.

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/crypto/bcrypt"
)

// signer/verifier global
var tokenAuth *jwtauth.JWTAuth

func init() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "secret"
	}
	tokenAuth = jwtauth.New("HS256", []byte(secret), nil)
}

// rotas
func (a *App) mountAuth(r chi.Router) {
	r.Post("/auth/register", a.register)
	r.Post("/auth/login", a.login)
	r.Post("/auth/refresh", a.refresh)
	r.Get("/auth/me", a.me)
}

// POST /auth/register
func (a *App) register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name     string `json:"name"`
		Company  string `json:"company"`
		Email    string `json:"email"`
		Password string `json:"password"`
		TaxID    string `json:"tax_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	in.Company = strings.TrimSpace(in.Company)
	if in.Company == "" {
		in.Company = in.Name
	}
	in.TaxID = digitsOnly(in.TaxID)
	if in.Email == "" || in.Password == "" || in.Name == "" || in.TaxID == "" {
		http.Error(w, "name, email, password and tax_id are required", http.StatusBadRequest)
		return
	}
	// CPF tem 11 dígitos, CNPJ 14
	if len(in.TaxID) != 11 && len(in.TaxID) != 14 {
		http.Error(w, "tax_id must be a valid CPF (11 digits) or CNPJ (14 digits)", http.StatusBadRequest)
		return
	}

	// já existe?
	var exists bool
	if err := a.DB.QueryRow(r.Context(),
		`SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email)=LOWER($1))`, in.Email).Scan(&exists); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if exists {
		http.Error(w, "user already exists", http.StatusConflict)
		return
	}

	// hash
	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()

	// empresa
	var companyID int64
	if err := a.DB.QueryRow(ctx,
		`INSERT INTO companies(name, tax_id) VALUES($1, $2) RETURNING id`, in.Company, in.TaxID).Scan(&companyID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// usuário
	var userID int64
	if err := a.DB.QueryRow(ctx,
		`INSERT INTO users(company_id, name, email, password)
		 VALUES($1,$2,$3,$4) RETURNING id`,
		companyID, in.Name, in.Email, string(hashed)).Scan(&userID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	token, err := issueToken(userID, companyID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token, "token_type": "bearer", "expires_in": 24 * 3600,
		"id": userID, "email": in.Email, "name": in.Name, "company_id": companyID,
		"tax_id": in.TaxID,
	})
}

// POST /auth/login
func (a *App) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.Email == "" || in.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	var userID, companyID int64
	var hashed, name, taxID string
	if err := a.DB.QueryRow(r.Context(),
		`SELECT u.id, u.company_id, u.name, u.password, c.tax_id
		 FROM users u
		 JOIN companies c ON u.company_id=c.id
		 WHERE LOWER(u.email)=LOWER($1)`,
		in.Email).Scan(&userID, &companyID, &name, &hashed, &taxID); err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hashed), []byte(in.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := issueToken(userID, companyID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token, "token_type": "bearer", "expires_in": 24 * 3600,
		"id": userID, "email": in.Email, "name": name, "company_id": companyID,
		"tax_id": taxID,
	})
}

// POST /auth/refresh
func (a *App) refresh(w http.ResponseWriter, r *http.Request) {
	uid, company, err := extractUserFromToken(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	token, err := issueToken(uid, company)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token, "token_type": "bearer", "expires_in": 24 * 3600,
	})
}

// GET /auth/me
func (a *App) me(w http.ResponseWriter, r *http.Request) {
	uid, company, err := extractUserFromToken(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	var email, name string
	if err := a.DB.QueryRow(r.Context(),
		`SELECT email, name FROM users WHERE id=$1`, uid).Scan(&email, &name); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id": uid, "email": email, "name": name, "company_id": company,
	})
}

// gera JWT
func issueToken(userID, companyID int64) (string, error) {
	claims := map[string]any{
		"user_id":    userID,
		"company_id": companyID,
		"exp":        time.Now().Add(24 * time.Hour).Unix(),
		"iat":        time.Now().Unix(),
	}
	_, tokenString, err := tokenAuth.Encode(claims)
	return tokenString, err
}

// extrai claims do Authorization: Bearer <token>
func extractUserFromToken(r *http.Request) (int64, int64, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return 0, 0, errors.New("no authorization header")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return 0, 0, errors.New("invalid authorization header")
	}
	raw := parts[1]

	// jwtauth v5 com jwx/v2: Decode -> (jwt.Token, error)
	tok, err := tokenAuth.Decode(raw)
	if err != nil || tok == nil {
		return 0, 0, errors.New("invalid token")
	}
	// valida exp/iat
	if err := jwxjwt.Validate(tok); err != nil {
		return 0, 0, errors.New("expired or invalid token")
	}

	uid := toInt64(getClaim(tok, "user_id"))
	company := toInt64(getClaim(tok, "company_id"))
	if uid == 0 || company == 0 {
		return 0, 0, errors.New("missing claims")
	}
	return uid, company, nil
}

func getClaim(tok jwxjwt.Token, key string) any {
	v, _ := tok.Get(key)
	return v
}

// conversão genérica p/ int64
func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case float32:
		return int64(t)
	default:
		return 0
	}
}
