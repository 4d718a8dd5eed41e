package main

import (
	"context"
	"encoding/json"
	"log"
)

// logActivity grava uma linha no histórico append-only. Escrito junto de
// cada mutação de pedido/lead; nunca falha a operação principal.
func (a *App) logActivity(ctx context.Context, companyID int64, entity string, entityID int64, action string, detail map[string]any) {
	var payload []byte
	if detail != nil {
		payload, _ = json.Marshal(detail)
	}
	if _, err := a.DB.Exec(ctx,
		`INSERT INTO activity_log(company_id, entity, entity_id, action, detail)
		 VALUES($1,$2,$3,$4,$5)`,
		companyID, entity, entityID, action, payload); err != nil {
		log.Printf("activity log %s/%d %s: %v", entity, entityID, action, err)
	}
}
