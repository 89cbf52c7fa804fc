package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

const (
	currentUserPath = "/protect/profile/"
	userProfilePath = "/get/user-profile/"
)

// CurrentUser returns the signed-in user. A 401 wraps ErrUnauthorized.
func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	var user User
	if err := c.getJSON(ctx, currentUserPath, nil, &user); err != nil {
		return User{}, fmt.Errorf("current user: %w", err)
	}

	return user, nil
}

// UserProfile returns another user's public profile. A 404 wraps ErrNotFound.
func (c *Client) UserProfile(ctx context.Context, userID int64) (User, error) {
	var user User
	if err := c.getJSON(ctx, userProfilePath+strconv.FormatInt(userID, 10), nil, &user); err != nil {
		return User{}, fmt.Errorf("user profile %d: %w", userID, err)
	}

	return user, nil
}

// RedirectFor maps an endpoint error to the surface the user is sent to, or
// "" when the error has no redirect.
func RedirectFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return RedirectLogin
	case errors.Is(err, ErrNotFound):
		return RedirectNotFound
	default:
		return ""
	}
}
