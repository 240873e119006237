package user

import "time"

// Role values assignable to a user. Registration always produces RoleUser;
// RoleAdmin only exists for the seeded admin account.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never expose hash in JSON
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Public is the redacted view sent over the wire. The hash is already
// excluded from User's JSON, but handlers return Public so a future field
// on User cannot leak by accident.
type Public struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u User) Redacted() Public {
	return Public{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}
