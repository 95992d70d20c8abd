package entity

import "time"

// User is one registered identity. ID is assigned by the store on creation and
// never changes. Secret is the one-way password derivation and must never
// leave the service.
type User struct {
	ID        string    `db:"id"`
	Email     string    `db:"email"`
	Secret    string    `db:"secret" json:"-"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// PublicView is the projection exposed over HTTP.
type PublicView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Public strips the secret.
func (u *User) Public() PublicView {
	return PublicView{ID: u.ID, Email: u.Email}
}

// Changes lists the fields an update may replace. Nil means unchanged.
type Changes struct {
	Email  *string
	Secret *string
}
