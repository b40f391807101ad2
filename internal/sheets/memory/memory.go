package memory

import (
	"context"
	"sync"

	"mintmind/internal/core"
	ports "mintmind/internal/sheets"
)

// Row is one exported transaction.
type Row struct {
	OwnerID     string
	Transaction core.Transaction
}

// Exporter keeps exported rows in memory. Used when no spreadsheet is
// configured and in tests.
type Exporter struct {
	mu   sync.Mutex
	seen map[string]struct{}
	rows []Row
}

var _ ports.TransactionExporter = (*Exporter)(nil)

func New() *Exporter {
	return &Exporter{seen: make(map[string]struct{})}
}

// Export records txs not exported before.
func (e *Exporter) Export(ctx context.Context, ownerID string, txs []core.Transaction) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var n int
	for _, tx := range txs {
		if _, ok := e.seen[tx.ExternalID]; ok {
			continue
		}
		e.seen[tx.ExternalID] = struct{}{}
		e.rows = append(e.rows, Row{OwnerID: ownerID, Transaction: tx})
		n++
	}
	return n, nil
}

// Rows returns a copy of everything exported so far, in export order.
func (e *Exporter) Rows() []Row {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Row(nil), e.rows...)
}
