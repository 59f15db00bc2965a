package audit

import (
	"context"
	"fmt"
	"testing"

	"github.com/marketsim/tick-engine/internal/model"
	"github.com/marketsim/tick-engine/internal/store"
)

func TestNegativeBalances(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	balances := []int64{100, -5, 0, -70_000, 42}
	for i, b := range balances {
		_ = ms.CreatePlayer(ctx, &model.Player{ID: fmt.Sprintf("p%d", i), Balance: b})
	}

	got, err := NegativeBalances(ctx, ms, 2, nil)
	if err != nil {
		t.Fatalf("NegativeBalances: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 players, got %+v", got)
	}
	if got[0].PlayerID != "p1" || got[0].Balance != -5 || got[1].PlayerID != "p3" || got[1].Balance != -70_000 {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestNegativeBalances_None(t *testing.T) {
	got, err := NegativeBalances(context.Background(), store.NewMemoryStore(), 0, nil)
	if err != nil {
		t.Fatalf("NegativeBalances: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}
