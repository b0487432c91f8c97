package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	CreativeStatusSubmitted        = "submitted"
	CreativeStatusApproved         = "approved"
	CreativeStatusChangesRequested = "changes_requested"
)

// CreativeVersion is one owner-submitted content proposal for a deal.
// Versions are monotonic per deal starting at 1; exactly one version is
// current at any time.
type CreativeVersion struct {
	ID        uuid.UUID `json:"id"`
	DealID    uuid.UUID `json:"deal_id"`
	Version   int       `json:"version"`
	Text      string    `json:"text"`
	MediaURLs []string  `json:"media_urls,omitempty"`
	Status    string    `json:"status"`
	Feedback  *string   `json:"feedback,omitempty"` // set only on request_changes
	IsCurrent bool      `json:"is_current"`
	CreatedAt time.Time `json:"created_at"`
}
