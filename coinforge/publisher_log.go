package coinforge

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// LogPublisher writes each transaction record to the debug log. Useful during
// development and as a reference Publisher implementation.
type LogPublisher struct{}

var _ Publisher = &LogPublisher{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Send(ctx context.Context, logger runtime.Logger, records []*TransactionRecord) {
	for _, record := range records {
		logger.WithFields(map[string]interface{}{
			"id":        record.Id,
			"player_id": record.PlayerID,
			"currency":  record.Currency,
			"previous":  record.Previous,
			"new":       record.New,
			"delta":     record.Delta,
			"reason":    record.Reason,
			"category":  string(record.Category),
		}).Debug("transaction applied")
	}
}
