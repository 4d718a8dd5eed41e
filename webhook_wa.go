package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
)

// webhook que a Evolution chama: POST /api/webhooks/wa/{instance}
// Guarda o payload bruto e repassa para o backend do agente IA. Sempre
// responde 202 para o gateway não reenviar o mesmo lote.
func (app *App) webhookWa(w http.ResponseWriter, r *http.Request) {
	instance := chi.URLParam(r, "instance")
	if instance == "" {
		http.Error(w, "missing instance", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	event := ""
	var envelope struct {
		Event string `json:"event"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		event = envelope.Event
	}

	_, _ = app.DB.Exec(r.Context(),
		`INSERT INTO public.webhooks_log(source, event, payload) VALUES($1, $2, $3)`,
		"evolution", event, json.RawMessage(body))

	agentURL := strings.TrimRight(os.Getenv("AGENT_BACKEND_URL"), "/")
	if agentURL == "" {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if !strings.Contains(agentURL, "/webhook/") {
		agentURL = agentURL + "/webhook/evolution"
	}

	req, err := http.NewRequest("POST", agentURL, bytes.NewReader(body))
	if err != nil {
		log.Printf("forward build err: %v", err)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Instance-ID", instance)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("forward err: %v", err)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	_ = resp.Body.Close()

	w.WriteHeader(http.StatusAccepted)
}
