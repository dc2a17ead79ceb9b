package models

import "github.com/google/uuid"

// Listing is the slice of the marketplace listing this service reads and writes.
// Every other listing column belongs to the marketplace.
type Listing struct {
	ID             uuid.UUID `json:"listing_id"`
	OwnerAccountID uuid.UUID `json:"owner_account_id"`
	IsFeatured     bool      `json:"is_featured"`
}
