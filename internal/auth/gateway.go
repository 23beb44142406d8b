package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bdgdview/bdgd-api/internal/config"
	"github.com/bdgdview/bdgd-api/internal/model"
	"github.com/bdgdview/bdgd-api/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	// ErrMissingToken means the request carried no sso token.
	ErrMissingToken = errors.New("sso_token is required")

	// ErrInvalidToken means the identity provider rejected the token.
	ErrInvalidToken = errors.New("invalid sso token")

	// ErrUnavailable means the identity provider could not be reached
	// within the configured timeout.
	ErrUnavailable = errors.New("identity provider unreachable")
)

// sessionStore is the slice of session.Store the gateway uses.
type sessionStore interface {
	Create(user model.User) string
	Destroy(id string)
}

// Gateway exchanges externally issued SSO tokens for local sessions
// by validating them against the remote identity provider.
type Gateway struct {
	log      *zap.Logger
	sessions sessionStore
	client   *http.Client
	url      string
	apiKey   string
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   *config.Config
	Sessions *session.Store
}

func NewGateway(p Params) *Gateway {
	return &Gateway{
		log:      p.Log,
		sessions: p.Sessions,
		client:   &http.Client{Timeout: p.Config.SSO.Timeout.Std()},
		url:      p.Config.SSO.URL,
		apiKey:   p.Config.SSO.APIKey,
	}
}

type validateRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Valid bool `json:"valid"`
		User  struct {
			ID        int    `json:"id"`
			Email     string `json:"email"`
			Name      string `json:"name"`
			Role      string `json:"role"`
			CompanyID *int   `json:"companyId"`
		} `json:"user"`
	} `json:"data"`
}

// Login validates ssoToken with the identity provider and, on
// success, mints a local session. No session is created on any
// failure path. A 200 from the provider is not by itself proof of
// validity; the payload must assert success and data.valid.
func (g *Gateway) Login(ctx context.Context, ssoToken, returnURL string) (model.User, string, error) {
	if ssoToken == "" {
		return model.User{}, "", ErrMissingToken
	}

	body, err := json.Marshal(validateRequest{Token: ssoToken})
	if err != nil {
		return model.User{}, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url+"/api/auth/validate", bytes.NewReader(body))
	if err != nil {
		return model.User{}, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Warn("identity provider unreachable", zap.Error(err))
		return model.User{}, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var payload validateResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&payload)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && payload.Error != "" {
			return model.User{}, "", fmt.Errorf("%w: %s", ErrInvalidToken, payload.Error)
		}
		return model.User{}, "", ErrInvalidToken
	}

	if decodeErr != nil || !payload.Success || !payload.Data.Valid {
		return model.User{}, "", ErrInvalidToken
	}

	user := model.User{
		ID:        payload.Data.User.ID,
		Email:     payload.Data.User.Email,
		Name:      payload.Data.User.Name,
		Role:      payload.Data.User.Role,
		CompanyID: payload.Data.User.CompanyID,
		ReturnURL: returnURL,
	}

	id := g.sessions.Create(user)
	g.log.Info("session created", zap.Int("user_id", user.ID), zap.String("role", user.Role))

	return user, id, nil
}

// Logout destroys the session. Destroying an unknown or already
// expired session is not an error.
func (g *Gateway) Logout(sessionID string) {
	g.sessions.Destroy(sessionID)
}
