package model

import "time"

// Roles allowed to operate a ticket scanner.
const (
	RoleOwner = "OWNER"
	RoleStaff = "STAFF"
)

// Operator is a user allowed to verify tickets, as stored in the `users`
// table.  Staff accounts are bound to one cinema through cinema_id; owners
// get the cinema they are signed in for.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Email        – unique email address.
//  FullName     – display name.
//  PasswordHash – bcrypt hashed password.
//  Role         – STAFF or OWNER.
//  CinemaID     – assigned cinema (0 when unassigned).
//  IsActive     – whether the account is active.
type Operator struct {
	ID           uint64
	Email        string
	FullName     string
	PasswordHash string
	Role         string
	CinemaID     uint64
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TokenPart is one issued token and its expiry.
type TokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

// OperatorPart is the public view of an operator.
type OperatorPart struct {
	ID       uint64 `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	CinemaID uint64 `json:"cinema_id"`
}

// AuthResponse is returned by login and refresh.
type AuthResponse struct {
	User    OperatorPart `json:"user"`
	Access  TokenPart    `json:"access"`
	Refresh TokenPart    `json:"refresh"`
}

// LoginRequest is the body of POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}
