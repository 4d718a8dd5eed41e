package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Cliente HTTP para o gateway de WhatsApp (Evolution API). Cada operação é
// uma única chamada, sem retry — quem decide o que é fatal é o controlador
// de sessão (wa_session.go).

type evolutionClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func newEvolutionClient() *evolutionClient {
	return &evolutionClient{
		BaseURL: strings.TrimRight(getenv("EVOLUTION_BASE", "https://evo.local"), "/"),
		APIKey:  os.Getenv("EVOLUTION_APIKEY"),
		HTTP:    &http.Client{Timeout: 20 * time.Second},
	}
}

// gatewayError carrega o status HTTP para que o chamador possa distinguir
// "instância já existe" (403/409) de falhas reais.
type gatewayError struct {
	Status int
	Path   string
	Body   string
}

func (e *gatewayError) Error() string {
	return fmt.Sprintf("evolution %s: http %d: %s", e.Path, e.Status, e.Body)
}

// instanceExists reporta se err é o caso "já existe" do gateway. A Evolution
// devolve 403 ou 409 para instâncias duplicadas; tratamos os dois como
// equivalentes (comportamento herdado — 403 pode mascarar problema de
// autorização, ver documentação do fornecedor antes de estreitar para 409).
func instanceExists(err error) bool {
	var ge *gatewayError
	if errors.As(err, &ge) {
		return ge.Status == http.StatusForbidden || ge.Status == http.StatusConflict
	}
	return false
}

func (c *evolutionClient) do(ctx context.Context, method, path, token string, body, vout any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token == "" {
		token = c.APIKey
	}
	if token != "" {
		req.Header.Set("apikey", token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(resp.Body)
		return &gatewayError{Status: resp.StatusCode, Path: path, Body: strings.TrimSpace(string(b))}
	}
	if vout != nil {
		return json.NewDecoder(resp.Body).Decode(vout)
	}
	return nil
}

// qrPayload é o material de QR devolvido pelo gateway. Base64 (imagem) ou
// Code (string crua) podem vir isolados; pelo menos um é necessário para
// exibir algo ao usuário.
type qrPayload struct {
	Base64 string `json:"base64,omitempty"`
	Code   string `json:"code,omitempty"`
}

func (q qrPayload) empty() bool { return q.Base64 == "" && q.Code == "" }

type createInstanceOut struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
	} `json:"instance"`
	QRCode *qrPayload `json:"qrcode,omitempty"`
}

type connectionStateOut struct {
	Instance struct {
		State string `json:"state"`
	} `json:"instance"`
}

// CreateInstance provisiona a sessão remota. instanceName == agentID.
func (c *evolutionClient) CreateInstance(ctx context.Context, fullPhone, agentID string, companyID int64, token string) (*createInstanceOut, error) {
	body := map[string]any{
		"instanceName": agentID,
		"number":       fullPhone,
		"token":        token,
		"companyId":    fmt.Sprint(companyID),
		"qrcode":       true,
	}
	var out createInstanceOut
	if err := c.do(ctx, http.MethodPost, "/instance/create", token, body, &out); err != nil {
		return nil, err
	}
	if out.Instance.InstanceName == "" {
		out.Instance.InstanceName = agentID
	}
	return &out, nil
}

// SetWebhook aponta os eventos da instância para a plataforma. Best-effort:
// o chamador loga e segue em caso de erro.
func (c *evolutionClient) SetWebhook(ctx context.Context, instance, webhookURL string) error {
	body := map[string]any{
		"url":      webhookURL,
		"events":   []string{"MESSAGES_UPSERT", "CONNECTION_UPDATE"},
		"byEvents": false,
	}
	return c.do(ctx, http.MethodPost, "/instance/setWebhook/"+url.PathEscape(instance), "", body, nil)
}

// SetSettings ajusta flags de comportamento da instância. Também best-effort.
func (c *evolutionClient) SetSettings(ctx context.Context, instance string) error {
	body := map[string]any{
		"rejectCall":      false,
		"groupsIgnore":    true,
		"alwaysOnline":    true,
		"readMessages":    false,
		"syncFullHistory": false,
	}
	return c.do(ctx, http.MethodPost, "/instance/settings/"+url.PathEscape(instance), "", body, nil)
}

// ConnectInstance pede um QR novo (QR codes expiram; chamado também pelo
// refresh periódico).
func (c *evolutionClient) ConnectInstance(ctx context.Context, instance, fullPhone string) (*qrPayload, error) {
	body := map[string]any{"number": fullPhone}
	var out qrPayload
	if err := c.do(ctx, http.MethodPost, "/instance/connect/"+url.PathEscape(instance), "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConnectionState consulta o estado remoto: "open" = conectado, "close" =
// ainda não; qualquer outro valor é tratado como pendente pelo chamador.
func (c *evolutionClient) ConnectionState(ctx context.Context, instance string) (string, error) {
	var out connectionStateOut
	if err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+url.PathEscape(instance), "", nil, &out); err != nil {
		return "", err
	}
	return out.Instance.State, nil
}

// DeleteInstance derruba a sessão remota. Best-effort: a limpeza local nunca
// espera por ela.
func (c *evolutionClient) DeleteInstance(ctx context.Context, instance string) error {
	return c.do(ctx, http.MethodDelete, "/instance/delete/"+url.PathEscape(instance), "", nil, nil)
}

// InstanceToken deriva a credencial da instância a partir do número nacional
// (sem DDI). Determinístico: o mesmo número sempre gera o mesmo token.
func (c *evolutionClient) InstanceToken(nationalNumber string) string {
	sum := sha256.Sum256([]byte(digitsOnly(nationalNumber)))
	return strings.ToUpper(hex.EncodeToString(sum[:16]))
}
