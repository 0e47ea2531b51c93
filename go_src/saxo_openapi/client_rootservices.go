package saxo_openapi

import "context"

// GetUser retrieves the user of the current session.
// GET /openapi/root/v1/user
func (c *Client) GetUser(ctx context.Context) (*UserResponse, error) {
	var user UserResponse
	if err := c.getJSON(ctx, "root/v1/user", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
