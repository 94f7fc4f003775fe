package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/lalith-99/pressroom/internal/apperr"
	"github.com/lalith-99/pressroom/internal/models"
	"github.com/lalith-99/pressroom/internal/repository"
)

var (
	ErrRevokedToken    = errors.New("token revoked")
	ErrInactiveAccount = errors.New("account inactive or missing")
)

// Authenticator turns a bearer token into a Principal. It is the single
// place both the websocket handshake and the HTTP middleware go through.
//
// Steps, in order: signature/expiry, revocation list, user row lookup
// (must exist and be active). Every failure wraps apperr.ErrAuth plus the
// specific cause.
type Authenticator struct {
	tokens      *TokenIssuer
	revocations Revocations
	users       repository.UserRepository
}

func NewAuthenticator(tokens *TokenIssuer, revocations Revocations, users repository.UserRepository) *Authenticator {
	if revocations == nil {
		revocations = NoRevocations{}
	}
	return &Authenticator{tokens: tokens, revocations: revocations, users: users}
}

func (a *Authenticator) Tokens() *TokenIssuer {
	return a.tokens
}

// Resolve validates token and returns the principal it belongs to.
//
// The role comes from the user row, not the token, so a demotion takes
// effect on the next connection even if an old token is still valid.
func (a *Authenticator) Resolve(ctx context.Context, token string) (models.Principal, *Claims, error) {
	claims, err := a.tokens.ParseToken(token)
	if err != nil {
		return models.Principal{}, nil, fmt.Errorf("%w: %w", apperr.ErrAuth, err)
	}

	revoked, err := a.revocations.IsRevoked(ctx, token)
	if err != nil {
		// Fail closed: if we cannot prove the token is still valid we
		// refuse it.
		return models.Principal{}, nil, fmt.Errorf("%w: %w", apperr.ErrAuth, err)
	}
	if revoked {
		return models.Principal{}, nil, fmt.Errorf("%w: %w", apperr.ErrAuth, ErrRevokedToken)
	}

	user, err := a.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return models.Principal{}, nil, fmt.Errorf("%w: lookup user: %w", apperr.ErrAuth, err)
	}
	if user == nil || !user.IsActive {
		return models.Principal{}, nil, fmt.Errorf("%w: %w", apperr.ErrAuth, ErrInactiveAccount)
	}

	return user.Principal(), claims, nil
}
