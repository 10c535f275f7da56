// Package app wires configuration, local storage, the API client and the
// client core together for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"boardline/internal/config"
	"boardline/internal/db"
	"boardline/internal/effects"
	"boardline/internal/identity"
	"boardline/internal/migrate"
	"boardline/internal/session"
	"boardline/internal/slots"
	"boardline/internal/state"
	boardlinesdk "boardline/sdk/go"
)

// Client is one signed-in (or signing-in) client session.
type Client struct {
	Config  *config.Config
	DB      *sqlx.DB
	Slots   slots.Store
	API     *boardlinesdk.Client
	Store   *state.Store
	Actions *effects.Actions
	Session *session.Session
	Logger  *slog.Logger
}

// Open loads the workspace config, opens the local slot database and builds
// an unauthenticated client core.
func Open(ctx context.Context, workspace string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn, migrate.Client); err != nil {
		conn.Close()
		return nil, err
	}
	decoder, err := NewDecoder(ctx, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c := New(cfg, slots.NewSQLite(conn), decoder, logger)
	c.DB = conn
	return c, nil
}

// New builds a client core over an existing slot store.
func New(cfg *config.Config, slotStore slots.Store, decoder identity.Decoder, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	store := state.NewStore(logger)
	c := &Client{
		Config: cfg,
		Slots:  slotStore,
		Store:  store,
		Logger: logger,
	}
	c.Actions = effects.New(store, nil, slotStore, logger)
	c.Session = &session.Session{
		Store:   store,
		Actions: c.Actions,
		Slots:   slotStore,
		Decoder: decoder,
		Logger:  logger,
	}
	c.useToken("")
	return c
}

// useToken points the API client, effects and profile sync at token.
func (c *Client) useToken(token string) {
	api := boardlinesdk.New(c.Config.API.BaseURL, token)
	api.Timeout = c.Config.APITimeout()
	c.API = api
	c.Actions.Remote = api
	c.Session.Profile = api
}

// Login signs in with a raw token.
func (c *Client) Login(ctx context.Context, token string) (state.State, error) {
	c.useToken(token)
	return c.Session.Bootstrap(ctx, token)
}

// Resume signs in with the token persisted by an earlier Login.
func (c *Client) Resume(ctx context.Context) (state.State, error) {
	token, ok, err := c.Slots.Get(ctx, slots.KeyAuthToken)
	if err != nil {
		return c.Store.Snapshot(), err
	}
	if !ok || token == "" {
		return c.Store.Snapshot(), session.ErrNoSession
	}
	c.useToken(token)
	return c.Session.Bootstrap(ctx, token)
}

// Logout ends any impersonation and forgets the persisted session.
func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.Resume(ctx); err != nil && !errors.Is(err, session.ErrNoSession) {
		c.Logger.Debug("resume before sign-out failed", slog.String("error", err.Error()))
	}
	return c.Session.SignOut(ctx)
}

func (c *Client) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// NewDecoder builds the token decoder for cfg.auth.mode.
func NewDecoder(ctx context.Context, cfg *config.Config) (identity.Decoder, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeHMAC, "":
		return identity.HMACDecoder{Secret: []byte(cfg.Auth.JWTSecret)}, nil
	case config.AuthModeOIDC:
		rolesClaim := cfg.Auth.RolesClaim
		if rolesClaim == "" {
			rolesClaim = identity.DefaultRolesClaim
		}
		return identity.NewOIDCDecoder(ctx, cfg.Auth.Issuer, cfg.Auth.ClientID, rolesClaim)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
}
