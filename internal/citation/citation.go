// Package citation assigns each chunk a stable identifier and a
// human-readable source reference at creation time. Identifiers are random
// UUIDs, so concurrent ingestions never race on assignment and ids are
// never reused after deletion.
package citation

import (
	"fmt"

	"github.com/google/uuid"

	"filesearch/internal/models"
)

// Tracker stamps citations. Stateless; safe for concurrent use.
type Tracker struct{}

func NewTracker() *Tracker { return &Tracker{} }

// Stamp creates the citation for chunk chunkIndex of the named document.
// The reference format ("<name>, chunk <i>") is part of the external
// contract and must stay stable.
func (t *Tracker) Stamp(documentName string, chunkIndex int) models.Citation {
	return models.Citation{
		ID:              uuid.NewString(),
		SourceReference: fmt.Sprintf("%s, chunk %d", documentName, chunkIndex),
		SourceFile:      documentName,
	}
}
