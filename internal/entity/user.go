package entity

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the user's subscription level.
type Tier string

const (
	TierFree     Tier = "free"
	TierPremium  Tier = "premium"
	TierLifetime Tier = "lifetime"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPremium, TierLifetime:
		return true
	}
	return false
}

// User is the device-session owner. At most one user row is active at a
// time; a missing row means a guest session. User rows are written by the
// auth collaborator and are not pushed by the reconciler.
type User struct {
	Meta

	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Tier        Tier   `json:"tier"`

	// SubscriptionExpiresAt is nil for free and lifetime tiers.
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`

	Verified bool `json:"verified"`

	MessagesSent      int `json:"messages_sent"`
	MessagesRemaining int `json:"messages_remaining"`
}

// Validate checks required fields and enum values.
func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("user id is required")
	}
	if u.Email == "" {
		return fmt.Errorf("user email is required")
	}
	if !strings.Contains(u.Email, "@") {
		return fmt.Errorf("user email %q is not an address", u.Email)
	}
	if u.Tier == "" {
		u.Tier = TierFree
	}
	if !u.Tier.Valid() {
		return fmt.Errorf("unknown subscription tier %q", u.Tier)
	}
	if u.MessagesSent < 0 || u.MessagesRemaining < 0 {
		return fmt.Errorf("message counters must not be negative")
	}
	return nil
}
