package sheets

import (
	"context"

	"mintmind/internal/core"
)

// Ports for outbound adapters.
type (
	// TransactionExporter appends reconciled transactions to a spreadsheet.
	// Rows already present (by external id) are not written again.
	TransactionExporter interface {
		Export(ctx context.Context, ownerID string, txs []core.Transaction) (appended int, err error)
	}
)
