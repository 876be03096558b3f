package domain

import "time"

// VerificationStatus represents a seller verification state.
type VerificationStatus string

// Verification statuses.
const (
	VerificationStatusNone     VerificationStatus = "none"
	VerificationStatusPending  VerificationStatus = "pending"
	VerificationStatusVerified VerificationStatus = "verified"
	VerificationStatusRejected VerificationStatus = "rejected"
)

// Profile is a marketplace user profile.
type Profile struct {
	ID             string
	DisplayName    string
	Username       string
	TelegramChatID string
	Locale         string
	Verification   VerificationStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasTelegram reports whether the user linked a Telegram chat.
func (p *Profile) HasTelegram() bool {
	return p.TelegramChatID != ""
}

// Name returns the best human-readable name for the profile.
func (p *Profile) Name() string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.Username != "":
		return "@" + p.Username
	default:
		return p.ID
	}
}
