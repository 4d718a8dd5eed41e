package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvolution(t *testing.T, handler http.HandlerFunc) *evolutionClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &evolutionClient{
		BaseURL: srv.URL,
		APIKey:  "global-key",
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

func TestCreateInstanceSendsTokenAndParsesQR(t *testing.T) {
	var gotBody map[string]any
	var gotHeader string
	c := testEvolution(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/instance/create", r.URL.Path)
		gotHeader = r.Header.Get("apikey")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"instance": map[string]any{"instanceName": "agent-1"},
			"qrcode":   map[string]any{"base64": "data:image/png;base64,xyz", "code": "2@abc"},
		})
	})

	out, err := c.CreateInstance(context.Background(), "5511988887777", "agent-1", 42, "INSTANCE-TOKEN")
	require.NoError(t, err)

	assert.Equal(t, "INSTANCE-TOKEN", gotHeader, "token da instância substitui a apikey global")
	assert.Equal(t, "agent-1", gotBody["instanceName"])
	assert.Equal(t, "5511988887777", gotBody["number"])
	assert.Equal(t, "42", gotBody["companyId"])
	assert.Equal(t, true, gotBody["qrcode"])

	require.NotNil(t, out.QRCode)
	assert.Equal(t, "2@abc", out.QRCode.Code)
	assert.Equal(t, "data:image/png;base64,xyz", out.QRCode.Base64)
}

func TestGatewayErrorCarriesStatus(t *testing.T) {
	for _, code := range []int{http.StatusForbidden, http.StatusConflict} {
		c := testEvolution(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"Instance already exists"}`, code)
		})
		_, err := c.CreateInstance(context.Background(), "5511988887777", "agent-1", 1, "tok")
		require.Error(t, err)
		assert.True(t, instanceExists(err), "http %d conta como instância existente", code)
	}

	c := testEvolution(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := c.CreateInstance(context.Background(), "5511988887777", "agent-1", 1, "tok")
	require.Error(t, err)
	assert.False(t, instanceExists(err))

	var ge *gatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, http.StatusInternalServerError, ge.Status)
	assert.Equal(t, "/instance/create", ge.Path)
}

func TestConnectionStateParsing(t *testing.T) {
	c := testEvolution(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/instance/connectionState/agent-1", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]any{"instance": map[string]any{"state": "open"}})
	})

	state, err := c.ConnectionState(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, waStateOpen, state)
}

func TestDoFallsBackToGlobalAPIKey(t *testing.T) {
	var got string
	c := testEvolution(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("apikey")
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.SetSettings(context.Background(), "agent-1"))
	assert.Equal(t, "global-key", got)
}

func TestInstanceTokenIsDeterministic(t *testing.T) {
	c := &evolutionClient{}

	t1 := c.InstanceToken("(11) 98888-7777")
	t2 := c.InstanceToken("11988887777")
	assert.Equal(t, t1, t2, "formatação do número não muda o token")
	assert.Len(t, t1, 32)
	assert.Equal(t, t1, c.InstanceToken("(11) 98888-7777"))

	assert.NotEqual(t, t1, c.InstanceToken("11977776666"))
}
