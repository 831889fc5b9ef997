package coinforge

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// TransactionCategory classifies the intent behind a balance mutation.
type TransactionCategory string

const (
	TransactionCategoryEarn     TransactionCategory = "earn"
	TransactionCategorySpend    TransactionCategory = "spend"
	TransactionCategoryTrade    TransactionCategory = "trade"
	TransactionCategoryPurchase TransactionCategory = "purchase"
	TransactionCategoryRollback TransactionCategory = "rollback"
)

// A TransactionRecord describes one applied balance mutation. Records are ephemeral:
// they exist for telemetry and audit only and are never persisted by the engine.
//
// Delta always reports the post-clamp applied change, so New - Previous == Delta
// holds exactly for every record.
type TransactionRecord struct {
	Id        string              `json:"id,omitempty"`
	Timestamp int64               `json:"timestamp,omitempty"`
	PlayerID  int64               `json:"player_id,omitempty"`
	Currency  string              `json:"currency,omitempty"`
	Previous  float64             `json:"previous,omitempty"`
	New       float64             `json:"new,omitempty"`
	Delta     float64             `json:"delta,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Category  TransactionCategory `json:"category,omitempty"`
}

// The Publisher describes a service or similar target implementation that wishes to
// receive and process the transaction records generated by the engine systems.
//
// Each Publisher may choose to process or ignore each record as it sees fit. It may
// also choose to buffer records for batch processing at its discretion.
//
// Publisher implementations must safely handle concurrent calls.
//
// Implementations must handle any errors or retries internally, callers will not
// repeat calls in case of errors.
type Publisher interface {
	// Send is called when there are one or more transaction records generated.
	Send(ctx context.Context, logger runtime.Logger, records []*TransactionRecord)
}
