package pricing

import (
	"time"

	"github.com/google/uuid"

	"github.com/marketsim/tick-engine/internal/model"
)

// Bar summarises one tick's move as an OHLC bar. Only one step happens per
// tick, so high and low are just the larger and smaller of open and close.
func Bar(kind model.AssetKind, assetID string, open, close int64, ts time.Time) model.PriceBar {
	high, low := open, close
	if close > open {
		high, low = close, open
	}
	return model.PriceBar{
		ID:        uuid.New().String(),
		AssetKind: kind,
		AssetID:   assetID,
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
	}
}
