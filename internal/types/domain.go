// Package types defines the shared domain model for the LogoForge service:
// users, saved logos, usage records, and the error and context plumbing used
// by every other package.
package types

import "time"

// User is an authenticated account. Accounts are created lazily on the first
// request that presents a valid identity-provider token; local credentials
// are never stored.
type User struct {
	ID               string
	Email            string
	Premium          bool
	StripeCustomerID *string
	CreatedAt        time.Time
	UpgradedAt       *time.Time
}

// Logo is one saved entry in a user's collection.
type Logo struct {
	ID          string
	UserID      string
	Prompt      string
	ImageURL    string
	BusinessName string
	CreatedAt   time.Time
}

// UsageRecord is one identity's consumption within a period. The count only
// moves forward within a period; a different PeriodKey on read means the
// record is stale and reads as zero.
type UsageRecord struct {
	Identity  string
	PeriodKey string
	Count     int
	UpdatedAt time.Time
}

// ReferenceImage is an optional style-reference upload attached to a
// generation request. Data is base64-encoded by the client.
type ReferenceImage struct {
	Data     string `json:"data" validate:"required,base64"`
	MimeType string `json:"mimeType" validate:"required,oneof=image/png image/jpeg image/webp"`
}
