package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway simula o gateway Evolution nos testes. Comportamento por
// campo; chamadas relevantes são gravadas sob mutex.
type fakeGateway struct {
	mu sync.Mutex

	createErr   error
	createQR    *qrPayload
	connectQR   *qrPayload
	connectErr  error
	state       string
	stateErr    error
	deleteErr   error
	webhookErr  error
	settingsErr error

	createdPhone string
	webhookURL   string
	connectCalls int
	deleteCalls  int
}

func (g *fakeGateway) CreateInstance(ctx context.Context, fullPhone, agentID string, companyID int64, token string) (*createInstanceOut, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createdPhone = fullPhone
	if g.createErr != nil {
		return nil, g.createErr
	}
	out := &createInstanceOut{QRCode: g.createQR}
	out.Instance.InstanceName = agentID
	return out, nil
}

func (g *fakeGateway) SetWebhook(ctx context.Context, instance, webhookURL string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.webhookURL = webhookURL
	return g.webhookErr
}

func (g *fakeGateway) SetSettings(ctx context.Context, instance string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settingsErr
}

func (g *fakeGateway) ConnectInstance(ctx context.Context, instance, fullPhone string) (*qrPayload, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connectCalls++
	if g.connectErr != nil {
		return nil, g.connectErr
	}
	return g.connectQR, nil
}

func (g *fakeGateway) ConnectionState(ctx context.Context, instance string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, g.stateErr
}

func (g *fakeGateway) DeleteInstance(ctx context.Context, instance string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteCalls++
	return g.deleteErr
}

func (g *fakeGateway) InstanceToken(nationalNumber string) string {
	return "TOKEN-" + digitsOnly(nationalNumber)
}

func (g *fakeGateway) setState(s string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = s
}

// memStore é o IntegrationStore em memória dos testes, com injeção de erro.
type memStore struct {
	mu        sync.Mutex
	recs      map[string]Integration
	upsertErr error
	deleteErr error
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]Integration)}
}

func (s *memStore) Upsert(ctx context.Context, rec Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	rec.UpdatedAt = time.Now()
	s.recs[rec.AgentID] = rec
	return nil
}

func (s *memStore) GetByAgent(ctx context.Context, agentID string) (*Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[agentID]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (s *memStore) Delete(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.recs, agentID)
	return nil
}

func (s *memStore) get(agentID string) (Integration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[agentID]
	return rec, ok
}

// newTestManager devolve um manager com intervalos curtos o bastante para
// os testes e ainda bem separados entre si.
func newTestManager(gw *fakeGateway, st *memStore) *ConnectionManager {
	m := NewConnectionManager(gw, st, "http://platform/api/webhooks/wa")
	m.PollInterval = 10 * time.Millisecond
	m.QRRefreshInterval = 40 * time.Millisecond
	m.SessionTimeout = 300 * time.Millisecond
	m.QRGrace = 5 * time.Millisecond
	m.CallTimeout = 100 * time.Millisecond
	return m
}

func TestConnectShowsQRAndPersistsConnecting(t *testing.T) {
	gw := &fakeGateway{createQR: &qrPayload{Base64: "data:image/png;base64,abc"}, state: "close"}
	st := newMemStore()
	m := newTestManager(gw, st)
	defer m.Shutdown()

	status, err := m.Connect(context.Background(), "agent-1", 7, "+55", "(11) 98888-7777")
	require.NoError(t, err)

	assert.Equal(t, stepAwaitingScan, status.Step)
	assert.Equal(t, "5511988887777", status.Phone)
	assert.Equal(t, "data:image/png;base64,abc", status.QRBase64)

	// o número completo enviado ao gateway é só dígitos, DDI incluso
	assert.Equal(t, "5511988887777", gw.createdPhone)
	// webhook por instância
	assert.Equal(t, "http://platform/api/webhooks/wa/agent-1", gw.webhookURL)

	rec, ok := st.get("agent-1")
	require.True(t, ok)
	assert.Equal(t, integrationConnecting, rec.Status)
	assert.Equal(t, "agent-1", rec.SessionID)
	assert.Equal(t, int64(7), rec.CompanyID)
}

func TestConnectRejectsShortNumber(t *testing.T) {
	m := newTestManager(&fakeGateway{}, newMemStore())
	defer m.Shutdown()

	_, err := m.Connect(context.Background(), "agent-1", 1, "+55", "1234-567")
	require.ErrorIs(t, err, errPhoneTooShort)
}

func TestConnectTreatsExistingInstanceAsSuccess(t *testing.T) {
	for _, code := range []int{http.StatusForbidden, http.StatusConflict} {
		gw := &fakeGateway{
			createErr: &gatewayError{Status: code, Path: "/instance/create"},
			connectQR: &qrPayload{Code: "2@abc"},
			state:     "close",
		}
		st := newMemStore()
		m := newTestManager(gw, st)

		status, err := m.Connect(context.Background(), "agent-1", 1, "55", "11988887777")
		require.NoError(t, err, "http %d deve ser tratado como instância existente", code)
		assert.Equal(t, stepAwaitingScan, status.Step)
		assert.Equal(t, "2@abc", status.QRCode)
		m.Shutdown()
	}
}

func TestConnectFailsWhenGatewayErrors(t *testing.T) {
	gw := &fakeGateway{createErr: &gatewayError{Status: 500, Path: "/instance/create"}}
	st := newMemStore()
	m := newTestManager(gw, st)
	defer m.Shutdown()

	_, err := m.Connect(context.Background(), "agent-1", 1, "55", "11988887777")
	require.Error(t, err)

	// falha na criação não deixa registro local para trás
	_, ok := st.get("agent-1")
	assert.False(t, ok)
}

func TestConnectFailsWithoutQRMaterial(t *testing.T) {
	gw := &fakeGateway{createQR: nil, connectQR: &qrPayload{}, state: "close"}
	m := newTestManager(gw, newMemStore())
	defer m.Shutdown()

	_, err := m.Connect(context.Background(), "agent-1", 1, "55", "11988887777")
	require.ErrorIs(t, err, errNoQR)
}

func TestConnectSurvivesWebhookAndSettingsFailure(t *testing.T) {
	gw := &fakeGateway{
		createQR:    &qrPayload{Code: "2@abc"},
		webhookErr:  errors.New("webhook down"),
		settingsErr: errors.New("settings down"),
		state:       "close",
	}
	m := newTestManager(gw, newMemStore())
	defer m.Shutdown()

	status, err := m.Connect(context.Background(), "agent-1", 1, "55", "11988887777")
	require.NoError(t, err)
	assert.Equal(t, stepAwaitingScan, status.Step)
}

func TestPollPromotesToConnected(t *testing.T) {
	gw := &fakeGateway{createQR: &qrPayload{Code: "2@abc"}, state: "close"}
	st := newMemStore()
	m := newTestManager(gw, st)
	defer m.Shutdown()

	_, err := m.Connect(context.Background(), "agent-1", 9, "55", "11988887777")
	require.NoError(t, err)

	gw.setState(waStateOpen)

	require.Eventually(t, func() bool {
		s, ok := m.Status("agent-1")
		return ok && s.Step == stepConnected
	}, 2*time.Second, 5*time.Millisecond)

	s, _ := m.Status("agent-1")
	assert.Empty(t, s.QRBase64, "QR some do snapshot após conectar")
	assert.Empty(t, s.QRCode)

	rec, ok := st.get("agent-1")
	require.True(t, ok)
	assert.Equal(t, integrationConnected, rec.Status)
	assert.Equal(t, "5511988887777", rec.PhoneNumber)
}

func TestSessionAbandonedAfterTimeout(t *testing.T) {
	gw := &fakeGateway{createQR: &qrPayload{Code: "2@abc"}, state: "close"}
	st := newMemStore()
	m := newTestManager(gw, st)
	m.SessionTimeout = 60 * time.Millisecond
	defer m.Shutdown()

	_, err := m.Connect(context.Background(), "agent-1", 1, "55", "11988887777")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, ok := m.Status("agent-1")
		return ok && s.Step == stepAbandoned
	}, 2*time.Second, 5*time.Millisecond)

	// o registro persistido permanece connecting; é o Reconcile que cura
	rec, ok := st.get("agent-1")
	require.True(t, ok)
	assert.Equal(t, integrationConnecting, rec.Status)
}

func TestQRRefreshUpdatesCode(t *testing.T) {
	gw := &fakeGateway{createQR: &qrPayload{Code: "2@first"}, state: "close"}
	m := newTestManager(gw, newMemStore())
	defer m.Shutdown()

	_, err := m.Connect(context.Background(), "agent-1", 1, "55", "11988887777")
	require.NoError(t, err)

	gw.mu.Lock()
	gw.connectQR = &qrPayload{Code: "2@second"}
	gw.mu.Unlock()

	require.Eventually(t, func() bool {
		s, ok := m.Status("agent-1")
		return ok && s.QRCode == "2@second"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLateQRRefreshIsDiscardedAfterConnect(t *testing.T) {
	gw := &fakeGateway{connectQR: &qrPayload{Code: "2@late"}}
	m := newTestManager(gw, newMemStore())

	sess := &waSession{
		agentID: "agent-1",
		phone:   "5511988887777",
		step:    stepConnected,
		stop:    make(chan struct{}),
	}
	m.refreshQR(sess)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.True(t, sess.qr.empty(), "refresh tardio não pode reexibir QR após conectar")
}

func TestConnectedEvenIfStoreWriteFails(t *testing.T) {
	gw := &fakeGateway{createQR: &qrPayload{Code: "2@abc"}, state: "close"}
	st := newMemStore()
	m := newTestManager(gw, st)
	defer m.Shutdown()

	_, err := m.Connect(context.Background(), "agent-1", 1, "55", "11988887777")
	require.NoError(t, err)

	st.mu.Lock()
	st.upsertErr = errors.New("db down")
	st.mu.Unlock()
	gw.setState(waStateOpen)

	require.Eventually(t, func() bool {
		s, ok := m.Status("agent-1")
		return ok && s.Step == stepFailed
	}, 2*time.Second, 5*time.Millisecond)

	s, _ := m.Status("agent-1")
	assert.Contains(t, s.Error, "saving the integration failed")
}

func TestCancelStopsSession(t *testing.T) {
	gw := &fakeGateway{createQR: &qrPayload{Code: "2@abc"}, state: "close"}
	m := newTestManager(gw, newMemStore())
	defer m.Shutdown()

	_, err := m.Connect(context.Background(), "agent-1", 1, "55", "11988887777")
	require.NoError(t, err)

	m.Cancel("agent-1")

	_, ok := m.Status("agent-1")
	assert.False(t, ok, "cancelamento remove a sessão do mapa")
}

func TestReconnectReplacesRunningSession(t *testing.T) {
	gw := &fakeGateway{createQR: &qrPayload{Code: "2@abc"}, state: "close"}
	m := newTestManager(gw, newMemStore())
	defer m.Shutdown()

	_, err := m.Connect(context.Background(), "agent-1", 1, "55", "11988887777")
	require.NoError(t, err)
	status, err := m.Connect(context.Background(), "agent-1", 1, "55", "11977776666")
	require.NoError(t, err)

	assert.Equal(t, "5511977776666", status.Phone)
	s, ok := m.Status("agent-1")
	require.True(t, ok)
	assert.Equal(t, "5511977776666", s.Phone)
}

func TestDisconnectClearsLocalEvenWhenGatewayFails(t *testing.T) {
	gw := &fakeGateway{deleteErr: errors.New("gateway unreachable")}
	st := newMemStore()
	require.NoError(t, st.Upsert(context.Background(), Integration{
		AgentID: "agent-1", CompanyID: 1, PhoneNumber: "5511988887777",
		Status: integrationConnected, SessionID: "agent-1",
	}))
	m := newTestManager(gw, st)

	err := m.Disconnect(context.Background(), "agent-1")
	require.NoError(t, err)

	_, ok := st.get("agent-1")
	assert.False(t, ok, "registro local some mesmo com o gateway fora")
	assert.Equal(t, 1, gw.deleteCalls)
}

func TestDisconnectToleratesStoreDeleteFailure(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.Upsert(context.Background(), Integration{
		AgentID: "agent-1", CompanyID: 1, PhoneNumber: "5511988887777",
		Status: integrationConnected, SessionID: "agent-1",
	}))
	st.mu.Lock()
	st.deleteErr = errors.New("db down")
	st.mu.Unlock()
	m := newTestManager(&fakeGateway{}, st)

	// para a UI a desconexão sempre funciona
	require.NoError(t, m.Disconnect(context.Background(), "agent-1"))
}

func TestReconcileWithoutRecord(t *testing.T) {
	m := newTestManager(&fakeGateway{}, newMemStore())

	res, err := m.Reconcile(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.False(t, res.Connected)
}

func TestReconcileHealsStaleRecord(t *testing.T) {
	for name, gw := range map[string]*fakeGateway{
		"closed": {state: "close"},
		"erro":   {stateErr: errors.New("instance not found")},
	} {
		t.Run(name, func(t *testing.T) {
			st := newMemStore()
			require.NoError(t, st.Upsert(context.Background(), Integration{
				AgentID: "agent-1", CompanyID: 1, PhoneNumber: "5511988887777",
				Status: integrationConnected, SessionID: "agent-1",
			}))
			m := newTestManager(gw, st)

			res, err := m.Reconcile(context.Background(), "agent-1")
			require.NoError(t, err)
			assert.False(t, res.Connected)

			_, ok := st.get("agent-1")
			assert.False(t, ok, "registro obsoleto é removido")
		})
	}
}

func TestReconcileConfirmsLiveConnection(t *testing.T) {
	gw := &fakeGateway{state: waStateOpen}
	st := newMemStore()
	require.NoError(t, st.Upsert(context.Background(), Integration{
		AgentID: "agent-1", CompanyID: 1, PhoneNumber: "5511988887777",
		Status: integrationConnecting, SessionID: "agent-1",
	}))
	m := newTestManager(gw, st)

	res, err := m.Reconcile(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.True(t, res.Connected)
	assert.Equal(t, "5511988887777", res.Phone)

	rec, ok := st.get("agent-1")
	require.True(t, ok)
	assert.Equal(t, integrationConnected, rec.Status, "connecting vira connected quando o remoto está open")
}
