package identity

import "errors"

// ErrNotAuthenticated is returned when an operation requiring a player
// identity runs without one.
var ErrNotAuthenticated = errors.New("not authenticated")

// User is a non-anonymous player identity.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DisplayName returns the user's name, falling back to the same placeholder
// the lobby shows for players without one.
func (u *User) DisplayName() string {
	if u.Name == "" {
		return "Unknown Driver"
	}
	return u.Name
}

// Provider resolves the current caller's identity.
type Provider interface {
	CurrentUser() (*User, error)
}

// Static is a fixed-identity provider, used by tests and single-player runs.
type Static struct {
	User *User
}

func (s Static) CurrentUser() (*User, error) {
	if s.User == nil || s.User.ID == "" {
		return nil, ErrNotAuthenticated
	}
	return s.User, nil
}
