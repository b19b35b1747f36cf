package models

import "time"

// User owns shard groups. PasswordHash is the digest HA1,
// md5("username:realm:password").
type User struct {
	ID           string
	UserName     string
	PasswordHash string
	CreatedAt    time.Time
}
