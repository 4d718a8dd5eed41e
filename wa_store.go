package main

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration é o registro persistido de conexão WhatsApp de um agente.
// Invariante: no máximo um por agent_id (upsert-on-conflict).
type Integration struct {
	AgentID     string    `json:"agent_id"`
	CompanyID   int64     `json:"company_id"`
	PhoneNumber string    `json:"phone_number"`
	Status      string    `json:"status"` // connecting | connected
	SessionID   string    `json:"session_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	integrationConnecting = "connecting"
	integrationConnected  = "connected"
)

// IntegrationStore é a ponte de persistência do controlador de sessão.
// Interface para permitir um fake em memória nos testes.
type IntegrationStore interface {
	Upsert(ctx context.Context, rec Integration) error
	GetByAgent(ctx context.Context, agentID string) (*Integration, error)
	Delete(ctx context.Context, agentID string) error
}

type pgIntegrationStore struct {
	DB *pgxpool.Pool
}

func (s *pgIntegrationStore) Upsert(ctx context.Context, rec Integration) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO public.wa_integrations (agent_id, company_id, phone_number, status, session_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (agent_id) DO UPDATE
SET
  company_id   = EXCLUDED.company_id,
  phone_number = EXCLUDED.phone_number,
  status       = EXCLUDED.status,
  session_id   = EXCLUDED.session_id,
  updated_at   = NOW()
`, rec.AgentID, rec.CompanyID, rec.PhoneNumber, rec.Status, rec.SessionID)
	return err
}

func (s *pgIntegrationStore) GetByAgent(ctx context.Context, agentID string) (*Integration, error) {
	var rec Integration
	err := s.DB.QueryRow(ctx, `
SELECT agent_id, company_id, phone_number, status, session_id, updated_at
FROM public.wa_integrations WHERE agent_id = $1
`, agentID).Scan(&rec.AgentID, &rec.CompanyID, &rec.PhoneNumber, &rec.Status, &rec.SessionID, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *pgIntegrationStore) Delete(ctx context.Context, agentID string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM public.wa_integrations WHERE agent_id = $1`, agentID)
	return err
}
