package users

import (
	"strings"
	"time"
)

// Identity maps a login (provider + subject) to the canonical user id that
// movements are attributed to.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Identity) TableName() string {
	return "user_identities"
}

// Name is what ledger entries show for this user.
func (i Identity) Name() string {
	if name := normalize(i.DisplayName); name != "" {
		return name
	}
	if email := normalize(i.Email); email != "" {
		return email
	}
	return i.UserID
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
