package main

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tok, err := issueToken(12, 34)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	r := httptest.NewRequest("GET", "/api/auth/me", nil)
	r.Header.Set("Authorization", "Bearer "+tok)

	uid, companyID, err := extractUserFromToken(r)
	require.NoError(t, err)
	assert.Equal(t, int64(12), uid)
	assert.Equal(t, int64(34), companyID)
}

func TestExtractUserRejectsBadHeaders(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/auth/me", nil)
	_, _, err := extractUserFromToken(r)
	require.Error(t, err, "sem Authorization")

	r.Header.Set("Authorization", "Token abc")
	_, _, err = extractUserFromToken(r)
	require.Error(t, err, "esquema diferente de Bearer")

	r.Header.Set("Authorization", "Bearer not-a-jwt")
	_, _, err = extractUserFromToken(r)
	require.Error(t, err, "token inválido")
}

func TestCompanyFromRequestHeaderFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/products", nil)
	r.Header.Set("X-Company-ID", "77")

	id, ok := companyFromRequest(r)
	require.True(t, ok)
	assert.Equal(t, int64(77), id)
}

func TestCompanyFromRequestPrefersToken(t *testing.T) {
	tok, err := issueToken(1, 55)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/api/products", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	r.Header.Set("X-Company-ID", "999")

	id, ok := companyFromRequest(r)
	require.True(t, ok)
	assert.Equal(t, int64(55), id, "claim do JWT vence o header")
}

func TestParsePriceToCents(t *testing.T) {
	cases := []struct {
		in    string
		cents int
		ok    bool
	}{
		{"129,90", 12990, true},
		{"129.90", 12990, true},
		{"R$ 12,34", 1234, true},
		{"1.234,56", 123456, true},
		{"1234", 123400, true},
		{"", 0, false},
		{"caro", 0, false},
		{"-5", 0, false},
	}
	for _, c := range cases {
		got, ok := parsePriceToCents(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		if c.ok {
			assert.Equal(t, c.cents, got, c.in)
		}
	}
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "5511988887777", digitsOnly("+55 (11) 98888-7777"))
	assert.Equal(t, "", digitsOnly("abc"))
	assert.Equal(t, "12345678901", digitsOnly("123.456.789-01"))
}
