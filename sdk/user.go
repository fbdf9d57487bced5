package sdk

import (
	"context"
	"net/url"
)

// GetUserInfo gets the current user's profile
func (c *Client) GetUserInfo(ctx context.Context) (*Profile, error) {
	var result Profile
	if err := c.get(ctx, "/user/info", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetUserProfile gets another user's profile with the online flag
func (c *Client) GetUserProfile(ctx context.Context, userId string) (*Profile, error) {
	var result Profile
	if err := c.get(ctx, "/user/profile/"+url.PathEscape(userId), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateProfile updates the current user's profile
func (c *Client) UpdateProfile(ctx context.Context, req *UpdateProfileRequest) (*Profile, error) {
	var result Profile
	if err := c.put(ctx, "/user/update", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
