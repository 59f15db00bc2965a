package seed

import (
	"context"
	"testing"

	"github.com/marketsim/tick-engine/internal/store"
)

func TestDefaults_Idempotent(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	nStocks, nCryptos, err := Defaults(ctx, ms, nil)
	if err != nil {
		t.Fatalf("Defaults: %v", err)
	}
	if nStocks != len(stocks) || nCryptos != len(cryptos) {
		t.Errorf("expected %d/%d, got %d/%d", len(stocks), len(cryptos), nStocks, nCryptos)
	}

	nStocks, nCryptos, err = Defaults(ctx, ms, nil)
	if err != nil || nStocks != 0 || nCryptos != 0 {
		t.Errorf("second seed should be a no-op, got %d/%d (%v)", nStocks, nCryptos, err)
	}

	all, _ := ms.ListStocks(ctx)
	if len(all) != len(stocks) {
		t.Errorf("expected %d stocks, got %d", len(stocks), len(all))
	}
	for _, st := range all {
		if st.CurrentPrice <= 0 || st.MarketCap != st.CurrentPrice*st.OutstandingShares {
			t.Errorf("bad seeded stock %+v", st)
		}
	}
	coins, _ := ms.ListCryptos(ctx)
	for _, c := range coins {
		if c.CirculatingSupply > c.TotalSupply {
			t.Errorf("%s circulating exceeds total supply", c.Symbol)
		}
	}
}
