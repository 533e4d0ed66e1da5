package models

import (
	"time"
)

type User struct {
	ID                 string
	Email              string
	Name               string
	PasswordHash       string
	PasswordSalt       string
	PasswordAlgorithm  string
	PasswordIterations int
	EmailVerified      bool
	Role               Role
	Permissions        []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
