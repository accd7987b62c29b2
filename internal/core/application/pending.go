package application

import (
	"sync"

	"github.com/blixtwallet/blixtd/internal/core/domain"
)

// PendingEntry holds the provenance of an invoice created by one of our own
// flows, keyed by payment hash until the settlement reconciler consumes it.
// Entries are advisory: an invoice without one is treated as a plain receive.
type PendingEntry struct {
	Type    domain.TxType
	Payer   string
	Website string
	Payload []byte

	// InvoiceIssued, when set, is called with the payment request once the
	// engine reports the invoice open. Used by flows that must hand the
	// invoice string back to a remote party.
	InvoiceIssued func(paymentRequest string)
}

// PendingEntries is the process-local pending-correlation table. It is not
// durable on purpose: after a restart the cold-start reconciliation recovers
// settlements, just without the provenance decoration.
type PendingEntries struct {
	mu      sync.Mutex
	entries map[string]PendingEntry
}

func NewPendingEntries() *PendingEntries {
	return &PendingEntries{entries: make(map[string]PendingEntry)}
}

func (p *PendingEntries) Put(paymentHash string, entry PendingEntry) {
	if entry.Type == "" {
		entry.Type = domain.TxTypeNormal
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[paymentHash] = entry
}

// Get returns the entry for the hash, or a default NORMAL entry when none
// exists.
func (p *PendingEntries) Get(paymentHash string) (PendingEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[paymentHash]
	if !ok {
		return PendingEntry{Type: domain.TxTypeNormal}, false
	}
	return entry, true
}

func (p *PendingEntries) Delete(paymentHash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, paymentHash)
}

func (p *PendingEntries) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
