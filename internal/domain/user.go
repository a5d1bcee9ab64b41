package domain

import "time"

// User is a messaging-platform user, keyed by the page-scoped sender id.
type User struct {
	ID        string
	FirstName string
	LastName  string
	Locale    string
	// Timezone is the UTC offset in hours reported by the platform profile.
	Timezone  float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName returns the name used in greetings.
func (u User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.LastName
}
