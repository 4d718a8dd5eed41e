package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Controlador do ciclo de conexão de instâncias WhatsApp. Uma sessão em
// memória por agente: cria a instância no gateway, configura webhook/flags,
// exibe o QR e fica sondando o estado remoto até "open", com refresh
// periódico do QR (QR codes expiram) e desistência após 3 minutos.
//
// A fonte de verdade persistida é o registro em wa_integrations
// (wa_store.go); sessão e registro são reconciliados de forma oportunista
// por Reconcile, nunca atomicamente.

// WhatsAppGateway é o contrato com o gateway remoto (evolution.go em
// produção, fake nos testes).
type WhatsAppGateway interface {
	CreateInstance(ctx context.Context, fullPhone, agentID string, companyID int64, token string) (*createInstanceOut, error)
	SetWebhook(ctx context.Context, instance, webhookURL string) error
	SetSettings(ctx context.Context, instance string) error
	ConnectInstance(ctx context.Context, instance, fullPhone string) (*qrPayload, error)
	ConnectionState(ctx context.Context, instance string) (string, error)
	DeleteInstance(ctx context.Context, instance string) error
	InstanceToken(nationalNumber string) string
}

const waStateOpen = "open"

// Passos da sessão visíveis para a UI.
const (
	stepAwaitingScan = "awaiting_scan"
	stepConnected    = "connected"
	stepAbandoned    = "abandoned"
	stepFailed       = "error"
)

var (
	errPhoneTooShort = errors.New("phone number must have at least 8 digits")
	errNoQR          = errors.New("gateway returned no QR material")
)

type waSession struct {
	agentID   string
	companyID int64
	phone     string // DDI + número nacional, só dígitos
	step      string
	qr        qrPayload
	errMsg    string
	startedAt time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// cancelAll para os dois timers da sessão de uma vez só. Chamado de
// exatamente três lugares: sucesso, timeout e cancelamento explícito.
func (s *waSession) cancelAll() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// SessionStatus é o snapshot devolvido para a UI.
type SessionStatus struct {
	Step     string `json:"step"`
	Phone    string `json:"phone,omitempty"`
	QRBase64 string `json:"qr_base64,omitempty"`
	QRCode   string `json:"qr_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ReconcileResult é o resultado do pre-check ao abrir o diálogo de conexão.
type ReconcileResult struct {
	Connected bool   `json:"connected"`
	Phone     string `json:"phone,omitempty"`
}

type ConnectionManager struct {
	gateway     WhatsAppGateway
	store       IntegrationStore
	webhookBase string

	// Intervalos ajustáveis (não são garantias de protocolo do gateway);
	// os testes os encurtam.
	PollInterval      time.Duration
	QRRefreshInterval time.Duration
	SessionTimeout    time.Duration
	QRGrace           time.Duration
	CallTimeout       time.Duration

	mu       sync.Mutex
	sessions map[string]*waSession
}

func NewConnectionManager(gw WhatsAppGateway, store IntegrationStore, webhookBase string) *ConnectionManager {
	return &ConnectionManager{
		gateway:           gw,
		store:             store,
		webhookBase:       webhookBase,
		PollInterval:      1 * time.Second,
		QRRefreshInterval: 25 * time.Second,
		SessionTimeout:    180 * time.Second,
		QRGrace:           2 * time.Second,
		CallTimeout:       15 * time.Second,
		sessions:          make(map[string]*waSession),
	}
}

// Reconcile é o pre-check explícito de abertura do diálogo: detecta e cura
// registros obsoletos (instância remota sumiu ou caiu) antes de a UI
// decidir entre "já conectado" e o passo de digitar o número.
func (m *ConnectionManager) Reconcile(ctx context.Context, agentID string) (ReconcileResult, error) {
	rec, err := m.store.GetByAgent(ctx, agentID)
	if err != nil {
		return ReconcileResult{}, err
	}
	if rec == nil {
		return ReconcileResult{}, nil
	}

	state, err := m.gateway.ConnectionState(ctx, rec.SessionID)
	if err != nil || state != waStateOpen {
		// Instância remota não está aberta (ou nem existe mais): o registro
		// local é lixo. Erros na consulta contam como "não conectado".
		if err != nil {
			log.Printf("wa reconcile %s: state query failed, healing local record: %v", agentID, err)
		}
		if derr := m.store.Delete(ctx, agentID); derr != nil {
			log.Printf("wa reconcile %s: stale record delete: %v", agentID, derr)
		}
		return ReconcileResult{}, nil
	}

	rec.Status = integrationConnected
	if err := m.store.Upsert(ctx, *rec); err != nil {
		return ReconcileResult{}, err
	}
	return ReconcileResult{Connected: true, Phone: rec.PhoneNumber}, nil
}

// Connect executa criar -> configurar -> QR -> sondar. Retorna o snapshot
// inicial (passo awaiting_scan com o QR) ou o erro que devolve a UI ao passo
// de digitação do número.
func (m *ConnectionManager) Connect(ctx context.Context, agentID string, companyID int64, ddi, national string) (SessionStatus, error) {
	nat := digitsOnly(national)
	if len(nat) < 8 {
		return SessionStatus{}, errPhoneTooShort
	}
	fullPhone := digitsOnly(ddi) + nat
	token := m.gateway.InstanceToken(national)

	created, err := m.gateway.CreateInstance(ctx, fullPhone, agentID, companyID, token)
	if err != nil && !instanceExists(err) {
		return SessionStatus{}, fmt.Errorf("create instance: %w", err)
	}
	// 403/409 = instância já existe no gateway; segue o fluxo normalmente.

	if err := m.store.Upsert(ctx, Integration{
		AgentID:     agentID,
		CompanyID:   companyID,
		PhoneNumber: fullPhone,
		Status:      integrationConnecting,
		SessionID:   agentID,
	}); err != nil {
		return SessionStatus{}, fmt.Errorf("persist integration: %w", err)
	}

	// Configuração best-effort: falha aqui nunca aborta a conexão.
	if err := m.gateway.SetWebhook(ctx, agentID, m.webhookBase+"/"+agentID); err != nil {
		log.Printf("wa connect %s: setWebhook: %v", agentID, err)
	}
	if err := m.gateway.SetSettings(ctx, agentID); err != nil {
		log.Printf("wa connect %s: setSettings: %v", agentID, err)
	}

	var qr qrPayload
	if created != nil && created.QRCode != nil && !created.QRCode.empty() {
		qr = *created.QRCode
	} else {
		// O gateway às vezes não devolve QR na criação; espera curta e pede
		// um explicitamente.
		select {
		case <-time.After(m.QRGrace):
		case <-ctx.Done():
			return SessionStatus{}, ctx.Err()
		}
		fresh, err := m.gateway.ConnectInstance(ctx, agentID, fullPhone)
		if err != nil {
			return SessionStatus{}, fmt.Errorf("request qr: %w", err)
		}
		if fresh != nil {
			qr = *fresh
		}
	}
	if qr.empty() {
		return SessionStatus{}, errNoQR
	}

	sess := &waSession{
		agentID:   agentID,
		companyID: companyID,
		phone:     fullPhone,
		step:      stepAwaitingScan,
		qr:        qr,
		startedAt: time.Now(),
		stop:      make(chan struct{}),
	}

	m.mu.Lock()
	if old, ok := m.sessions[agentID]; ok {
		old.cancelAll()
	}
	m.sessions[agentID] = sess
	m.mu.Unlock()

	go m.run(sess)

	return m.snapshot(sess), nil
}

// run é o laço da sessão: sonda o estado a cada PollInterval, renova o QR a
// cada QRRefreshInterval e desiste depois de SessionTimeout. Os dois tickers
// morrem juntos em qualquer saída.
func (m *ConnectionManager) run(sess *waSession) {
	poll := time.NewTicker(m.PollInterval)
	refresh := time.NewTicker(m.QRRefreshInterval)
	timeout := time.NewTimer(m.SessionTimeout)
	defer poll.Stop()
	defer refresh.Stop()
	defer timeout.Stop()

	for {
		select {
		case <-sess.stop:
			return

		case <-timeout.C:
			// 3 minutos sem "open": para tudo em silêncio. O registro
			// persistido permanece "connecting"; o usuário tenta de novo.
			sess.cancelAll()
			m.mu.Lock()
			sess.step = stepAbandoned
			m.mu.Unlock()
			return

		case <-refresh.C:
			go m.refreshQR(sess)

		case <-poll.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.CallTimeout)
			state, err := m.gateway.ConnectionState(ctx, sess.agentID)
			cancel()
			if err != nil || state != waStateOpen {
				// Falha transitória ou ainda "close": só espera o próximo tick.
				continue
			}
			// Conectou. Timers são desligados ainda neste handler, antes de
			// qualquer continuação, para nenhum tick atrasado reabrir a UI
			// de escaneamento.
			sess.cancelAll()
			m.finalizeConnected(sess)
			return
		}
	}
}

func (m *ConnectionManager) finalizeConnected(sess *waSession) {
	ctx, cancel := context.WithTimeout(context.Background(), m.CallTimeout)
	defer cancel()
	err := m.store.Upsert(ctx, Integration{
		AgentID:     sess.agentID,
		CompanyID:   sess.companyID,
		PhoneNumber: sess.phone,
		Status:      integrationConnected,
		SessionID:   sess.agentID,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		// Sem registro durável não dá para confirmar a conexão para a UI.
		sess.step = stepFailed
		sess.errMsg = "connected, but saving the integration failed: " + err.Error()
		return
	}
	sess.step = stepConnected
	sess.qr = qrPayload{}
}

// refreshQR roda fora do laço para não segurar a sondagem de estado. O
// resultado só é aplicado se a sessão ainda estiver aguardando o scan — um
// refresh que termina depois do sucesso é descartado.
func (m *ConnectionManager) refreshQR(sess *waSession) {
	ctx, cancel := context.WithTimeout(context.Background(), m.CallTimeout)
	defer cancel()
	qr, err := m.gateway.ConnectInstance(ctx, sess.agentID, sess.phone)
	if err != nil || qr == nil || qr.empty() {
		if err != nil {
			log.Printf("wa refresh %s: %v", sess.agentID, err)
		}
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.step != stepAwaitingScan {
		return
	}
	sess.qr = *qr
}

// Status devolve o snapshot da sessão em andamento (ou encerrada) do agente.
func (m *ConnectionManager) Status(agentID string) (SessionStatus, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[agentID]
	m.mu.Unlock()
	if !ok {
		return SessionStatus{}, false
	}
	return m.snapshot(sess), true
}

// Cancel abandona a sessão a pedido do usuário. Nada é persistido.
func (m *ConnectionManager) Cancel(agentID string) {
	m.mu.Lock()
	sess, ok := m.sessions[agentID]
	if ok {
		delete(m.sessions, agentID)
	}
	m.mu.Unlock()
	if ok {
		sess.cancelAll()
	}
}

// Disconnect derruba a instância remota (best-effort) e apaga o registro
// local incondicionalmente: depois de um disconnect explícito o gateway
// nunca é fonte de verdade para o estado da UI.
func (m *ConnectionManager) Disconnect(ctx context.Context, agentID string) error {
	m.Cancel(agentID)

	sessionID := agentID
	if rec, err := m.store.GetByAgent(ctx, agentID); err == nil && rec != nil {
		sessionID = rec.SessionID
	}
	if err := m.gateway.DeleteInstance(ctx, sessionID); err != nil {
		log.Printf("wa disconnect %s: remote delete: %v", agentID, err)
	}
	if err := m.store.Delete(ctx, agentID); err != nil {
		// Tolerado: a UI já considera o agente desconectado.
		log.Printf("wa disconnect %s: local delete: %v", agentID, err)
	}
	return nil
}

// Shutdown encerra todas as sessões em andamento.
func (m *ConnectionManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		sess.cancelAll()
		delete(m.sessions, id)
	}
}

func (m *ConnectionManager) snapshot(sess *waSession) SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SessionStatus{
		Step:     sess.step,
		Phone:    sess.phone,
		QRBase64: sess.qr.Base64,
		QRCode:   sess.qr.Code,
		Error:    sess.errMsg,
	}
}
