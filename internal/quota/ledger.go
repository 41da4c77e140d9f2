// Package quota tracks per-store usage against a configured byte limit and
// is the single admission authority for ingestion. Counter mutations for one
// store are serialized; stores are independent of each other.
package quota

import (
	"sync"

	"filesearch/internal/models"
)

// DefaultEmbeddingOverheadFactor estimates embedding storage as a multiple
// of raw document bytes. Inferred from upstream documentation, not measured
// against a real embedding model; override via NewLedger.
const DefaultEmbeddingOverheadFactor = 3

// Usage is a snapshot of a store's counters.
type Usage struct {
	TotalFiles          int
	TotalChunks         int
	StorageSizeBytes    int64
	EmbeddingsSizeBytes int64
}

// TotalBytes is raw plus estimated embedding bytes, the figure compared
// against the quota.
func (u Usage) TotalBytes() int64 {
	return u.StorageSizeBytes + u.EmbeddingsSizeBytes
}

type entry struct {
	mu    sync.Mutex
	quota int64
	usage Usage
}

// Ledger holds usage entries keyed by store id.
type Ledger struct {
	overhead int64

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewLedger creates a ledger with the given embedding overhead factor;
// factors below 1 fall back to the default.
func NewLedger(overheadFactor int64) *Ledger {
	if overheadFactor < 1 {
		overheadFactor = DefaultEmbeddingOverheadFactor
	}
	return &Ledger{
		overhead: overheadFactor,
		entries:  make(map[string]*entry),
	}
}

// Register creates (or resets) the entry for a store with its quota and
// current usage, typically loaded from persistence at startup.
func (l *Ledger) Register(storeID string, quotaBytes int64, current Usage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[storeID] = &entry{quota: quotaBytes, usage: current}
}

// SetQuota adjusts a registered store's quota. Existing usage is left
// untouched even if it now exceeds the new limit; only future admissions
// are affected.
func (l *Ledger) SetQuota(storeID string, quotaBytes int64) error {
	e, err := l.entry(storeID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quota = quotaBytes
	return nil
}

// Remove drops a store's entry, e.g. on force delete.
func (l *Ledger) Remove(storeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, storeID)
}

// Usage returns the current snapshot for a store.
func (l *Ledger) Usage(storeID string) (Usage, error) {
	e, err := l.entry(storeID)
	if err != nil {
		return Usage{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usage, nil
}

// Admit charges a store for one document of incomingBytes producing
// chunkCount chunks. The estimated embedding overhead is included in the
// admission check. Either all counters move or none do; a rejection leaves
// the store unchanged and carries a machine-readable reason.
func (l *Ledger) Admit(storeID string, incomingBytes int64, chunkCount int) (Usage, error) {
	e, err := l.entry(storeID)
	if err != nil {
		return Usage{}, err
	}

	estimated := incomingBytes * l.overhead

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.usage.TotalBytes()+incomingBytes+estimated > e.quota {
		return e.usage, models.Reject(models.ErrQuotaExceeded, models.ReasonQuotaExceeded,
			"store %s: %d bytes used of %d, admitting %d raw + %d embedding bytes would exceed quota",
			storeID, e.usage.TotalBytes(), e.quota, incomingBytes, estimated)
	}

	e.usage.TotalFiles++
	e.usage.TotalChunks += chunkCount
	e.usage.StorageSizeBytes += incomingBytes
	e.usage.EmbeddingsSizeBytes += estimated
	return e.usage, nil
}

// Release refunds the charges of a previously admitted document, used on
// chunk deletion and on rollback of a failed ingestion. Counters never go
// below zero.
func (l *Ledger) Release(storeID string, incomingBytes int64, chunkCount int) (Usage, error) {
	e, err := l.entry(storeID)
	if err != nil {
		return Usage{}, err
	}

	estimated := incomingBytes * l.overhead

	e.mu.Lock()
	defer e.mu.Unlock()

	e.usage.TotalFiles--
	e.usage.TotalChunks -= chunkCount
	e.usage.StorageSizeBytes -= incomingBytes
	e.usage.EmbeddingsSizeBytes -= estimated
	if e.usage.TotalFiles < 0 {
		e.usage.TotalFiles = 0
	}
	if e.usage.TotalChunks < 0 {
		e.usage.TotalChunks = 0
	}
	if e.usage.StorageSizeBytes < 0 {
		e.usage.StorageSizeBytes = 0
	}
	if e.usage.EmbeddingsSizeBytes < 0 {
		e.usage.EmbeddingsSizeBytes = 0
	}
	return e.usage, nil
}

func (l *Ledger) entry(storeID string) (*entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[storeID]
	if !ok {
		return nil, models.ErrStoreNotFound
	}
	return e, nil
}
