package models

import (
	"time"
)

// Session is an ephemeral credential bound to one account and one domain.
// A session issued for host A never authorizes host B.
type Session struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	AccountID uint      `json:"account_id" gorm:"index;not null"`
	Domain    string    `json:"domain" gorm:"index;not null"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}
