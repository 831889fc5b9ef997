package coinforge

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// ReceiptsConfig is the data definition for the ReceiptsSystem type.
type ReceiptsConfig struct {
	// Products maps an external product identifier to the currency grant it buys.
	Products map[string]*ReceiptsConfigProduct `json:"products,omitempty" yaml:"products,omitempty"`

	// RetentionDays is how long processed receipt marks are kept in the document
	// before the sweep purges them.
	RetentionDays int `json:"retention_days,omitempty" yaml:"retention_days,omitempty"`
}

type ReceiptsConfigProduct struct {
	Currency string  `json:"currency" yaml:"currency"`
	Amount   float64 `json:"amount" yaml:"amount"`
}

// ReceiptResult is the durable contract returned to the purchase front end. The
// front end marks the purchase fulfilled to the platform only on Granted;
// Retryable means the same notification will be delivered again later.
type ReceiptResult int

const (
	ReceiptResultUnknown ReceiptResult = iota
	ReceiptResultGranted
	ReceiptResultRetryable
)

func (r ReceiptResult) String() string {
	switch r {
	case ReceiptResultGranted:
		return "granted"
	case ReceiptResultRetryable:
		return "not_processed_yet"
	default:
		return "unknown"
	}
}

// The ReceiptsSystem reconciles external purchase receipts into currency grants.
// Its core invariant is idempotence: a given receipt id grants currency at most
// once, ever.
type ReceiptsSystem interface {
	System

	// ProcessReceipt applies the grant for one purchase notification.
	ProcessReceipt(ctx context.Context, logger runtime.Logger, playerID int64, productID, receiptID string) (ReceiptResult, error)

	// Sweep purges receipt marks older than the retention window from the
	// player's document. Runs at most once per real-world day per document.
	Sweep(ctx context.Context, logger runtime.Logger, playerID int64)
}
