package models

import "time"

// User is an account belonging to exactly one application. Username and
// email are unique within that application.
type User struct {
	ID                int64     `json:"id"`
	ApplicationID     int64     `json:"application_id"`
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	EmailConfirmed    bool      `json:"email_confirmed"`
	PasswordHash      string    `json:"password_hash"`
	PasswordSalt      string    `json:"password_salt"`
	SecurityStamp     string    `json:"security_stamp"`
	ConcurrencyStamp  string    `json:"concurrency_stamp"`
	LockoutEnabled    bool      `json:"lockout_enabled"`
	LockoutEnd        time.Time `json:"lockout_end,omitzero"`
	AccessFailedCount int       `json:"access_failed_count"`
	CreatedAt         time.Time `json:"created_at"`
}

// LockedOut reports whether the account is locked at now.
func (u *User) LockedOut(now time.Time) bool {
	return u.LockoutEnabled && now.Before(u.LockoutEnd)
}

// RoleGroup owns a set of roles within an application.
type RoleGroup struct {
	ID            int64  `json:"id"`
	ApplicationID int64  `json:"application_id"`
	Name          string `json:"name"`
}

// Role is a named role. RoleGroupID is zero for roles outside any group.
type Role struct {
	ID          int64  `json:"id"`
	RoleGroupID int64  `json:"role_group_id,omitempty"`
	Name        string `json:"name"`
}

// UserRole joins a user to a role.
type UserRole struct {
	UserID int64 `json:"user_id"`
	RoleID int64 `json:"role_id"`
}

// Principal is the set of identity claims attached to a session or token.
type Principal struct {
	Subject       string   `json:"sub"`
	ApplicationID int64    `json:"app,omitempty"`
	Name          string   `json:"name,omitempty"`
	Email         string   `json:"email,omitempty"`
	Roles         []string `json:"role,omitempty"`
	ClientID      string   `json:"client_id,omitempty"`
	Scopes        []string `json:"scope,omitempty"`
	Resources     []string `json:"aud,omitempty"`
}

// SubjectClaims is the current server-side view of a user, looked up when
// tokens are issued or refreshed.
type SubjectClaims struct {
	ApplicationID int64
	Name          string
	Email         string
	Roles         []string
	SecurityStamp string
}
