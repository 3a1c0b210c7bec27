package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPlanForDays(t *testing.T) {
	for _, want := range Plans {
		got, ok := PlanForDays(want.Days)
		if !ok || got != want {
			t.Errorf("PlanForDays(%d) = %+v/%v, want %+v", want.Days, got, ok, want)
		}
	}
	if _, ok := PlanForDays(5); ok {
		t.Error("PlanForDays(5) accepted an unknown plan")
	}
}

func TestPlanPayout(t *testing.T) {
	cases := []struct {
		days      int
		principal string
		want      string
	}{
		{4, "1000", "1300"},
		{8, "1000", "1650"},
		{12, "1000", "1950"},
		{4, "333.33", "433.33"},
	}
	for _, tc := range cases {
		plan, _ := PlanForDays(tc.days)
		principal := decimal.RequireFromString(tc.principal)
		if got := plan.Payout(principal); got.String() != tc.want {
			t.Errorf("Payout(%s, %dd) = %s, want %s", tc.principal, tc.days, got, tc.want)
		}
	}
}

func TestPlanDescribe(t *testing.T) {
	plan, _ := PlanForDays(8)
	got := plan.Describe(decimal.NewFromInt(1000))
	if want := "1000 for 65% in 8 Days"; got != want {
		t.Errorf("Describe = %q, want %q", got, want)
	}
}

func TestStatusSide(t *testing.T) {
	cases := []struct {
		status OrderStatus
		want   Side
	}{
		{OrderPending, SideBuyer},
		{OrderPaired, SideBuyer},
		{OrderMatured, SideSeller},
		{OrderActive, SideNone},
		{OrderClosed, SideNone},
		{OrderRevoked, SideNone},
	}
	for _, tc := range cases {
		if got := tc.status.Side(); got != tc.want {
			t.Errorf("%s.Side() = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestChunkStatusTerminal(t *testing.T) {
	if ChunkAwaitingPayment.Terminal() || ChunkPaymentMade.Terminal() {
		t.Error("open chunk statuses reported terminal")
	}
	if !ChunkReceived.Terminal() {
		t.Error("Received not terminal")
	}
}
