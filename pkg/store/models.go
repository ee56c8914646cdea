package store

import (
	"strconv"
	"time"
)

// AuthRequest status values.
const (
	AuthStatusPending  = "pending"
	AuthStatusApproved = "approved"
	AuthStatusRejected = "rejected"
)

// User represents one chat participant known to the bot.
type User struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	TelegramID           int64     `gorm:"uniqueIndex;not null" json:"telegram_id"`
	Username             string    `json:"username"`
	FirstName            string    `json:"first_name"`
	LastName             string    `json:"last_name"`
	IsAuthorized         bool      `gorm:"not null" json:"is_authorized"`
	IsAdmin              bool      `gorm:"not null" json:"is_admin"`
	NotificationsEnabled bool      `gorm:"not null" json:"notifications_enabled"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// DisplayName returns the best human-readable name for the user.
func (u *User) DisplayName() string {
	switch {
	case u.Username != "":
		return "@" + u.Username
	case u.FirstName != "":
		return u.FirstName
	default:
		return strconv.FormatInt(u.TelegramID, 10)
	}
}

// AuthRequest represents one user's request for elevated trust.
type AuthRequest struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"index;not null" json:"user_id"`
	User        User       `json:"-"`
	Status      string     `gorm:"not null;default:pending" json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	ProcessedBy *int64     `json:"processed_by"`
}

// PCStatus is the single-row cache of the controlled machine's last
// known liveness.
type PCStatus struct {
	ID              uint       `gorm:"primaryKey" json:"-"`
	Online          bool       `json:"online"`
	IPAddress       string     `json:"ip_address"`
	Hostname        string     `json:"hostname"`
	LastCheck       time.Time  `json:"last_check"`
	LastWakeAttempt *time.Time `json:"last_wake_attempt"`
}

// Match is one observed Dota match, cached so new matches can be
// detected between monitor passes. Append-only.
type Match struct {
	ID          uint       `gorm:"primaryKey" json:"-"`
	MatchID     int64      `gorm:"uniqueIndex;not null" json:"match_id"`
	HeroID      int        `json:"hero_id"`
	HeroName    string     `json:"hero_name"`
	Kills       int        `json:"kills"`
	Deaths      int        `json:"deaths"`
	Assists     int        `json:"assists"`
	DurationSec int        `json:"duration_sec"`
	GameMode    string     `json:"game_mode"`
	Won         bool       `json:"won"`
	StartedAt   *time.Time `json:"started_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AuditEntry is an append-only record of a significant action.
// UserID is nil for system-initiated entries.
type AuditEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    *uint     `gorm:"index" json:"user_id"`
	Action    string    `gorm:"not null" json:"action"`
	Details   string    `json:"details"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}
