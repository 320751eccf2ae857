package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"roadmap/internal/types"
)

// ClerkClient reads users from the Clerk Backend API.
type ClerkClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
}

// NewClerkClient creates a ClerkClient. base may be nil.
func NewClerkClient(base *BaseClient, secretKey, baseURL string) *ClerkClient {
	if base == nil {
		base = NewBaseClient(nil, "clerk", types.ErrCodeUpstreamClerk, DefaultRetryPolicy())
	}
	if baseURL == "" {
		baseURL = "https://api.clerk.com"
	}
	return &ClerkClient{
		base:      base,
		secretKey: secretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
	}
}

// GetUser calls GET /v1/users/{id}.
func (c *ClerkClient) GetUser(ctx context.Context, id string) (*IdentityUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/users/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "GetUser: failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, wrapTransportError(types.ErrCodeUpstreamClerk, "GetUser", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, types.NewAppError(types.ErrCodeNotFoundUser,
			fmt.Sprintf("identity user %s not found", id), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, types.NewAppError(types.ErrCodeUpstreamClerk,
			fmt.Sprintf("GetUser: Clerk returned %d: %s", resp.StatusCode, readErrorBody(resp)), nil)
	}

	var user IdentityUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamClerk, "GetUser: failed to decode response", err)
	}
	return &user, nil
}

var _ IdentityDirectory = (*ClerkClient)(nil)
