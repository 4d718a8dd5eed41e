package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ensureSchema cria/ajusta o schema necessário de forma idempotente.
func ensureSchema(ctx context.Context, db *pgxpool.Pool) error {
	// Força search_path public (também feito no AfterConnect)
	_, _ = db.Exec(ctx, `SET search_path TO public`)

	stmts := []string{
		// COMPANIES
		`CREATE TABLE IF NOT EXISTS public.companies (
			id          BIGSERIAL PRIMARY KEY,
			name        TEXT NOT NULL,
			tax_id      TEXT UNIQUE,
			segmento    TEXT,
			telefone    TEXT,
			email       TEXT,
			endereco    TEXT,
			cidade      TEXT,
			uf          TEXT,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		// USERS
		`CREATE TABLE IF NOT EXISTS public.users (
			id          BIGSERIAL PRIMARY KEY,
			company_id  BIGINT NOT NULL REFERENCES public.companies(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			email       TEXT NOT NULL UNIQUE,
			password    TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_users_email_lower ON public.users ((LOWER(email)));`,

		// AGENTS (vendedores IA — chave dona da integração WhatsApp)
		`CREATE TABLE IF NOT EXISTS public.agents (
			id                  TEXT PRIMARY KEY,
			company_id          BIGINT NOT NULL REFERENCES public.companies(id) ON DELETE CASCADE,
			name                TEXT NOT NULL,
			communication_style TEXT,
			sector              TEXT,
			profile_type        TEXT,
			profile_custom      TEXT,
			base_prompt         TEXT,
			status              TEXT NOT NULL DEFAULT 'active',
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agents_company ON public.agents (company_id);`,

		// PRODUCTS
		`CREATE TABLE IF NOT EXISTS public.products (
			id           BIGSERIAL PRIMARY KEY,
			company_id   BIGINT NOT NULL REFERENCES public.companies(id) ON DELETE CASCADE,
			title        TEXT NOT NULL,
			slug         TEXT,
			category     TEXT,
			status       TEXT NOT NULL DEFAULT 'active',
			price_cents  INTEGER NOT NULL DEFAULT 0,
			stock        INTEGER NOT NULL DEFAULT 0,
			image_url    TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_products_company ON public.products (company_id);`,

		// LEADS (funil/kanban)
		`CREATE TABLE IF NOT EXISTS public.leads (
			id         BIGSERIAL PRIMARY KEY,
			company_id BIGINT NOT NULL REFERENCES public.companies(id) ON DELETE CASCADE,
			name       TEXT,
			phone      TEXT,
			email      TEXT,
			source     TEXT,
			stage      TEXT NOT NULL DEFAULT 'novo',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_leads_company_stage ON public.leads (company_id, stage);`,

		// ORDERS
		`CREATE TABLE IF NOT EXISTS public.orders (
			id             BIGSERIAL PRIMARY KEY,
			company_id     BIGINT NOT NULL REFERENCES public.companies(id) ON DELETE CASCADE,
			lead_id        BIGINT,
			total_cents    INTEGER NOT NULL DEFAULT 0,
			status         TEXT NOT NULL DEFAULT 'pending',
			payment_status TEXT NOT NULL DEFAULT 'pending',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_company ON public.orders (company_id);`,

		// ORDER ITEMS
		`CREATE TABLE IF NOT EXISTS public.order_items (
			id               BIGSERIAL PRIMARY KEY,
			order_id         BIGINT NOT NULL REFERENCES public.orders(id) ON DELETE CASCADE,
			company_id       BIGINT NOT NULL,
			product_id       BIGINT,
			qty              INTEGER NOT NULL DEFAULT 1,
			unit_price_cents INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_company ON public.order_items (company_id);`,

		// ACTIVITY LOG (append-only, escrito junto de cada mutação)
		`CREATE TABLE IF NOT EXISTS public.activity_log (
			id         BIGSERIAL PRIMARY KEY,
			company_id BIGINT NOT NULL,
			entity     TEXT NOT NULL,
			entity_id  BIGINT NOT NULL,
			action     TEXT NOT NULL,
			detail     JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_activity_entity ON public.activity_log (entity, entity_id);`,

		// WHATSAPP: INTEGRAÇÕES (uma por agente)
		`CREATE TABLE IF NOT EXISTS public.wa_integrations (
			agent_id     TEXT PRIMARY KEY,
			company_id   BIGINT NOT NULL,
			phone_number TEXT NOT NULL,
			status       TEXT NOT NULL CHECK (status IN ('connecting','connected')),
			session_id   TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		// WEBHOOKS LOG
		`CREATE TABLE IF NOT EXISTS public.webhooks_log (
			id         BIGSERIAL PRIMARY KEY,
			source     TEXT,
			event      TEXT,
			payload    JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		// CENTRAL DE AJUDA
		`CREATE TABLE IF NOT EXISTS public.support_articles (
			id         BIGSERIAL PRIMARY KEY,
			slug       TEXT UNIQUE NOT NULL,
			title      TEXT NOT NULL,
			category   TEXT,
			body       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS public.support_tickets (
			id         BIGSERIAL PRIMARY KEY,
			company_id BIGINT NOT NULL,
			subject    TEXT NOT NULL,
			message    TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'open',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		// SEEDS da central de ajuda
		`INSERT INTO public.support_articles (slug, title, category, body) VALUES
			('conectar-whatsapp', 'Como conectar o WhatsApp do seu vendedor IA', 'whatsapp',
			 'Abra a tela do Vendedor IA, informe o DDI e o número do celular e escaneie o QR code em até 3 minutos.'),
			('funil-de-leads', 'Organizando o funil de leads', 'leads',
			 'Arraste os cards entre as colunas novo, contato, negociacao e cliente. Cada movimento fica registrado no histórico.'),
			('status-de-pedidos', 'Ciclo de vida de um pedido', 'pedidos',
			 'Pedidos seguem pending -> confirmed -> shipped -> delivered. Cancelamentos são permitidos antes da entrega.')
		 ON CONFLICT (slug) DO NOTHING;`,
	}

	for _, q := range stmts {
		if _, err := db.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
