package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	openai "github.com/sashabaranov/go-openai"
)

// ================================================================
//  Estado em memória para produtos pendentes (cadastro via visão)
// ================================================================

// productSuggest representa os dados sugeridos pela IA para um produto.
type productSuggest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
}

// pendingProduct guarda uma sugestão de produto que aguarda o preço do usuário.
type pendingProduct struct {
	CompanyID int64
	ImagePath string // caminho local onde o arquivo foi salvo
	ImageURL  string // URL pública (/uploads/...) para exibir no chat
	Suggest   productSuggest
}

var (
	pendMu        sync.Mutex
	pendBySession = make(map[string]*pendingProduct)
)

func setPending(session string, p *pendingProduct) {
	pendMu.Lock()
	defer pendMu.Unlock()
	if session == "" {
		return
	}
	pendBySession[session] = p
}

func getPending(session string) (*pendingProduct, bool) {
	pendMu.Lock()
	defer pendMu.Unlock()
	p, ok := pendBySession[session]
	return p, ok
}

func clearPending(session string) {
	pendMu.Lock()
	defer pendMu.Unlock()
	delete(pendBySession, session)
}

// ================================================================
//  Rotas de chat
// ================================================================

// mountChat registra o playground do vendedor IA e o cadastro por visão.
func (a *App) mountChat(r chi.Router) {
	r.Post("/chat", a.chatHandler)
	r.Post("/vision/upload", a.visionUpload)
}

// chatReq é o payload de /api/chat. agentId seleciona o vendedor IA cujo
// base_prompt vira o system; sessionId rastreia pendências de cadastro.
type chatReq struct {
	Message   string `json:"message"`
	AgentID   string `json:"agentId,omitempty"`
	System    string `json:"system,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	History   []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"history,omitempty"`
}

// chatHandler atende /api/chat. Se houver um produto pendente para o
// sessionId e o usuário enviar um preço, cria o produto na base e
// responde informando. Caso contrário, repassa a mensagem para a IA.
func (a *App) chatHandler(w http.ResponseWriter, r *http.Request) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		http.Error(w, "OPENAI_API_KEY not set", http.StatusInternalServerError)
		return
	}
	model := getenv("TEXT_MODEL", "gpt-4o-mini")

	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}

	var in chatReq
	if err := decodeJSON(r, &in); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	in.Message = strings.TrimSpace(in.Message)
	if in.Message == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	// Se há pendência para esta sessão e a mensagem contém um preço,
	// conclui o cadastro do produto.
	if p, ok := getPending(in.SessionID); ok && p.CompanyID == companyID {
		if cents, okp := parsePriceToCents(in.Message); okp {
			slug := firstNonEmpty(p.Suggest.Description, strings.Join(p.Suggest.Tags, ", "))

			var prod Product
			err := a.DB.QueryRow(r.Context(), `
				INSERT INTO products (company_id, title, slug, category, status, image_url, price_cents, stock)
				VALUES ($1,$2,$3,$4,'active',$5,$6,0)
				RETURNING id, company_id, title, COALESCE(slug,''), COALESCE(category,''), status,
				          COALESCE(image_url,''), price_cents, stock, created_at
			`,
				companyID,
				limitRunes(p.Suggest.Title, 60),
				limitRunes(slug, 300),
				limitRunes(p.Suggest.Category, 80),
				p.ImageURL,
				cents,
			).Scan(&prod.ID, &prod.CompanyID, &prod.Title, &prod.Slug, &prod.Category,
				&prod.Status, &prod.ImageURL, &prod.PriceCents, &prod.Stock, &prod.CreatedAt)
			if err != nil {
				http.Error(w, "db insert error: "+err.Error(), http.StatusInternalServerError)
				return
			}
			clearPending(in.SessionID)
			a.logActivity(r.Context(), companyID, "product", prod.ID, "created", map[string]any{"via": "vision"})

			msg := fmt.Sprintf("✅ Produto **%s** cadastrado por R$ %.2f.\nCategoria: %s\nImagem: %s",
				prod.Title, float64(prod.PriceCents)/100.0, prod.Category, prod.ImageURL)
			writeJSON(w, http.StatusOK, map[string]any{
				"ok":      true,
				"reply":   msg,
				"product": prod,
			})
			return
		}
		// existe pendência mas não identificamos preço
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":    true,
			"reply": "Por favor, informe o preço no formato 12,34 ou 12.34 (ex.: 129,90).",
		})
		return
	}

	// Sem pendência: conversa normal. O system vem do base_prompt do
	// agente, se informado; o campo system do payload sobrepõe.
	system := strings.TrimSpace(in.System)
	if system == "" && in.AgentID != "" {
		_ = a.DB.QueryRow(r.Context(),
			`SELECT COALESCE(base_prompt,'') FROM agents WHERE id=$1 AND company_id=$2`,
			in.AgentID, companyID).Scan(&system)
	}

	client := openai.NewClient(apiKey)
	var msgs []openai.ChatCompletionMessage
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, h := range in.History {
		role := h.Role
		if role != "user" && role != "assistant" && role != "system" {
			role = "user"
		}
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    role,
			Content: h.Content,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: in.Message,
	})

	resp, err := client.CreateChatCompletion(r.Context(), openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	})
	if err != nil || len(resp.Choices) == 0 {
		http.Error(w, "openai error: "+err.Error(), http.StatusBadGateway)
		return
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"reply": text,
	})
}

// ================================================================
//  visionUpload: analisa imagem, sugere produto e pede preço
// ================================================================

// visionUpload recebe uma imagem, utiliza a IA de visão para sugerir
// dados de produto (nome, descrição, categoria, tags), salva a imagem
// em /uploads e registra uma pendência aguardando o preço.
func (a *App) visionUpload(w http.ResponseWriter, r *http.Request) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		http.Error(w, "OPENAI_API_KEY not set", http.StatusInternalServerError)
		return
	}
	model := getenv("VISION_MODEL", "gpt-4o")

	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(20 << 20); err != nil {
		http.Error(w, "multipart parse error: "+err.Error(), http.StatusBadRequest)
		return
	}
	file, hdr, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "image file required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read file error: "+err.Error(), http.StatusBadRequest)
		return
	}
	mime := contentTypeFromHeader(hdr)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw)

	sessionID := strings.TrimSpace(r.FormValue("sessionId"))
	nameHint := strings.TrimSpace(r.FormValue("prompt"))

	// prompt pedindo JSON estrito
	prompt := "Você é um assistente de catalogação de e-commerce. Gere APENAS um JSON com os campos: " +
		`{"title": string (máx 60 chars), "description": string (150-300 chars), "category": string, "tags": string[]}` +
		". Sem comentários, sem markdown, sem texto extra. Se a imagem não for clara, dê um título genérico."

	client := openai.NewClient(apiKey)
	msg := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt + "\nDica: " + nameHint},
			{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
			},
		},
	}
	resp, err := client.CreateChatCompletion(r.Context(), openai.ChatCompletionRequest{
		Model:       model,
		Messages:    []openai.ChatCompletionMessage{msg},
		Temperature: 0.2,
	})
	if err != nil || len(resp.Choices) == 0 {
		http.Error(w, "openai error: "+err.Error(), http.StatusBadGateway)
		return
	}
	var sug productSuggest
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Choices[0].Message.Content)), &sug); err != nil || strings.TrimSpace(sug.Title) == "" {
		sug.Title = nonEmpty(nameHint, "Produto")
		sug.Description = "Produto cadastrado automaticamente."
		if sug.Category == "" {
			sug.Category = "Geral"
		}
	}

	// salva imagem em uploads
	uploadDir := getenv("UPLOAD_DIR", "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		http.Error(w, "create upload dir error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	filename := fmt.Sprintf("prod_%d%s", time.Now().UnixNano(), guessExt(mime))
	dst := filepath.Join(uploadDir, filename)
	if err := os.WriteFile(dst, raw, 0o644); err != nil {
		http.Error(w, "save file error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	publicURL := "/uploads/" + filename

	setPending(sessionID, &pendingProduct{
		CompanyID: companyID,
		ImagePath: dst,
		ImageURL:  publicURL,
		Suggest:   sug,
	})

	text := fmt.Sprintf(
		"Sugeri **%s**.\nDescrição: %s\nCategoria: %s\nMe diga o preço (ex.: 129,90) que eu já cadastro.",
		limitRunes(sug.Title, 60),
		limitRunes(sug.Description, 280),
		limitRunes(sug.Category, 80),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"reply":     text,
		"image_url": publicURL,
		"suggest":   sug,
	})
}

// ================================================================
//  Funções auxiliares
// ================================================================

// contentTypeFromHeader retorna o Content-Type de um cabeçalho de arquivo
// multipart, usando image/png como padrão se estiver vazio.
func contentTypeFromHeader(h *multipart.FileHeader) string {
	if ct := h.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "image/png"
}

// guessExt retorna uma extensão de arquivo adequada a partir do tipo MIME.
func guessExt(mime string) string {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/png":
		fallthrough
	default:
		return ".png"
	}
}

// nonEmpty retorna v se não estiver em branco; caso contrário, def.
func nonEmpty(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// firstNonEmpty retorna o primeiro valor não vazio de uma lista de strings.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// limitRunes limita uma string ao número máximo de runas, removendo
// espaços extras das pontas.
func limitRunes(s string, max int) string {
	rs := []rune(strings.TrimSpace(s))
	if len(rs) <= max {
		return strings.TrimSpace(s)
	}
	return string(rs[:max])
}

// parsePriceToCents converte uma string de preço para centavos. Aceita
// formatos como "1.234,56", "1234,56", "1234.56", "R$ 12,34".
func parsePriceToCents(s string) (int, bool) {
	str := strings.TrimSpace(strings.ToLower(s))
	str = strings.ReplaceAll(str, "r$", "")
	str = strings.TrimSpace(str)
	if str == "" {
		return 0, false
	}
	// vírgula decimal brasileira: remove pontos de milhar e troca a vírgula
	if strings.Contains(str, ",") && (len(str) < 3 || !strings.Contains(str[len(str)-3:], ".")) {
		str = strings.ReplaceAll(str, ".", "")
		str = strings.ReplaceAll(str, ",", ".")
	} else if strings.Count(str, ",") > 0 && strings.Count(str, ".") > 0 {
		str = strings.ReplaceAll(str, ",", "")
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return int(f*100 + 0.5), true
}
