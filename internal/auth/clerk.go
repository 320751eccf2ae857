// Package auth verifies the two kinds of credentials the API accepts from
// Clerk: session JWTs on user requests and svix signatures on webhooks.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"roadmap/internal/config"
	"roadmap/internal/types"
)

const defaultLeeway = 30 * time.Second

// sessionClaims are the Clerk session token claims the API reads.
type sessionClaims struct {
	SessionID       string `json:"sid"`
	AuthorizedParty string `json:"azp"`
	jwt.RegisteredClaims
}

// ClerkAuthenticator resolves Clerk session tokens to Actors. Signing keys
// are fetched from the instance JWKS endpoint and refreshed in the
// background by keyfunc.
type ClerkAuthenticator struct {
	parser  *jwt.Parser
	keyfunc jwt.Keyfunc
	parties map[string]struct{}
	logger  *slog.Logger
}

// NewClerkAuthenticator starts the JWKS refresher bound to ctx. Cancelling
// ctx stops the refresh goroutine.
//
// authorizedParties limits the azp claim to the web app origins; an empty
// list accepts any azp.
func NewClerkAuthenticator(ctx context.Context, cfg config.IdentityConfig, authorizedParties []string, logger *slog.Logger) (*ClerkAuthenticator, error) {
	if cfg.JWKSURL == "" || cfg.Issuer == "" {
		return nil, errors.New("clerk JWKS URL and issuer must be set")
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
	if err != nil {
		return nil, fmt.Errorf("failed to init JWKS keyfunc: %w", err)
	}
	return newClerkAuthenticator(cfg.Issuer, kf.Keyfunc, cfg.ClockSkew, authorizedParties, logger), nil
}

func newClerkAuthenticator(issuer string, kf jwt.Keyfunc, leeway time.Duration, authorizedParties []string, logger *slog.Logger) *ClerkAuthenticator {
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	if logger == nil {
		logger = slog.Default()
	}
	parties := make(map[string]struct{}, len(authorizedParties))
	for _, p := range authorizedParties {
		if p = strings.TrimRight(strings.TrimSpace(p), "/"); p != "" && p != "*" {
			parties[p] = struct{}{}
		}
	}

	return &ClerkAuthenticator{
		parser: jwt.NewParser(
			jwt.WithIssuer(strings.TrimRight(issuer, "/")),
			jwt.WithLeeway(leeway),
			jwt.WithExpirationRequired(),
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name}),
		),
		keyfunc: kf,
		parties: parties,
		logger:  logger,
	}
}

// ResolveToken implements core.Authenticator. The Actor ID is the Clerk user
// id from the sub claim.
func (a *ClerkAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	claims := &sessionClaims{}
	_, err := a.parser.ParseWithClaims(token, claims, a.keyfunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "session token expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, invalidReason(err), err)
	}

	if claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token missing sub", nil)
	}
	if len(a.parties) > 0 && claims.AuthorizedParty != "" {
		if _, ok := a.parties[claims.AuthorizedParty]; !ok {
			a.logger.WarnContext(ctx, "session token from unexpected origin",
				"azp", claims.AuthorizedParty,
			)
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unexpected authorized party", nil)
		}
	}

	return &types.Actor{
		ID:        claims.Subject,
		Type:      types.ActorTypeUser,
		SessionID: claims.SessionID,
	}, nil
}

func invalidReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return "bad signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "unexpected issuer"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "token not valid yet"
	default:
		return "invalid token"
	}
}
