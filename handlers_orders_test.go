package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderTransitions(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{"pending", "confirmed", true},
		{"pending", "canceled", true},
		{"pending", "shipped", false},
		{"pending", "delivered", false},
		{"confirmed", "shipped", true},
		{"confirmed", "canceled", true},
		{"confirmed", "pending", false},
		{"shipped", "delivered", true},
		{"shipped", "canceled", true},
		{"delivered", "canceled", false},
		{"delivered", "pending", false},
		{"canceled", "pending", false},
		{"canceled", "confirmed", false},
		{"nope", "confirmed", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, transitionAllowed(orderTransitions, c.from, c.to),
			"%s -> %s", c.from, c.to)
	}
}

func TestPaymentTransitions(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{"pending", "paid", true},
		{"pending", "refunded", false},
		{"paid", "refunded", true},
		{"paid", "pending", false},
		{"refunded", "paid", false},
		{"refunded", "pending", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, transitionAllowed(paymentTransitions, c.from, c.to),
			"%s -> %s", c.from, c.to)
	}
}

func TestLeadStageValidation(t *testing.T) {
	for _, s := range []string{"novo", "contato", "negociacao", "cliente", "perdido"} {
		assert.True(t, validStage(s), s)
	}
	assert.False(t, validStage(""))
	assert.False(t, validStage("ganho"))
	assert.False(t, validStage("Novo"))
}
