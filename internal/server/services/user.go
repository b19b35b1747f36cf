// Package services contains server-side business logic. UserService handles
// registration and serves the digest credential of each user.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/dmitrijs2005/synk/internal/server/auth"
	"github.com/dmitrijs2005/synk/internal/server/models"
	"github.com/dmitrijs2005/synk/internal/server/repositories/users"
)

const maxUsernameLen = 64

type UserService struct {
	users users.Repository
	realm string
}

func NewUserService(repo users.Repository, realm string) *UserService {
	return &UserService{users: repo, realm: realm}
}

// Register creates a user and stores md5(username:realm:password).
func (s *UserService) Register(ctx context.Context, username, password string) (*models.User, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("%w: empty password", common.ErrorInvalidSchema)
	}

	user := &models.User{UserName: username, PasswordHash: auth.HA1(username, s.realm, password)}
	u, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return u, nil
}

// HA1 returns the stored digest credential of username.
func (s *UserService) HA1(ctx context.Context, username string) (string, error) {
	user, err := s.users.GetUserByLogin(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", err
		}
		return "", common.ErrorInternal
	}
	return user.PasswordHash, nil
}

// validateUsername rejects names that cannot appear in the colon separated
// HA1 input or in a quoted header value.
func validateUsername(name string) error {
	switch {
	case name == "", utf8.RuneCountInString(name) > maxUsernameLen:
		return fmt.Errorf("%w: length must be 1..%d", common.ErrorInvalidUsername, maxUsernameLen)
	case strings.ContainsAny(name, ":\"\\"):
		return fmt.Errorf("%w: must not contain ':', '\"' or '\\'", common.ErrorInvalidUsername)
	case strings.TrimSpace(name) != name:
		return fmt.Errorf("%w: leading or trailing space", common.ErrorInvalidUsername)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: control character", common.ErrorInvalidUsername)
		}
	}
	return nil
}
