package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tapewatch/internal/feed"
)

// Consume drains a feed client's channels into the symbol workers until ctx
// is cancelled. Connectivity transitions are logged; a disconnected feed
// simply lets books go stale, which the validity check already surfaces.
func (p *Pipeline) Consume(ctx context.Context, client *feed.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-client.Depth():
			p.SubmitDepth(DepthInput{
				Symbol:      ev.Symbol,
				Side:        ev.Side,
				Op:          ev.Op,
				Price:       ev.Price,
				Size:        ev.Size,
				Rank:        ev.Rank,
				TimestampMs: ev.TimestampMs,
			})
		case ev := <-client.Trades():
			p.SubmitTrade(TradeInput{
				Symbol:    ev.Symbol,
				EventMs:   ev.EventMs,
				ReceiptMs: ev.ReceiptMs,
				Price:     ev.Price,
				Size:      ev.Size,
			})
		case ev := <-client.Conn():
			log.Info().Str("state", ev.State.String()).Str("detail", ev.Detail).
				Msg("feed connectivity changed")
		}
	}
}
