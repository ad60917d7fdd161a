package drive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	gosync "sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/vheikkil/gdrive-go/internal/tokenfile"
)

// Google OAuth2 endpoints for installed applications.
var googleEndpoint = oauth2.Endpoint{
	AuthURL:       "https://accounts.google.com/o/oauth2/auth",
	TokenURL:      "https://oauth2.googleapis.com/token",
	DeviceAuthURL: "https://oauth2.googleapis.com/device/code",
}

// driveScope grants full read/write access to the user's Drive.
const driveScope = "https://www.googleapis.com/auth/drive"

// ClientCredentials identifies the registered OAuth2 application. For
// installed apps the secret is not confidential; both values come from the
// user's config (the Drive API requires a per-deployment registration).
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// DeviceAuth holds the device code response fields the CLI displays.
type DeviceAuth struct {
	UserCode        string
	VerificationURI string
}

// Login performs the device code OAuth2 flow:
//  1. Requests a device code from Google
//  2. Calls display so the CLI can show the user code and verification URL
//  3. Polls until the user authorizes (blocking, respects ctx cancellation)
//  4. Saves the token to disk at tokenPath
//  5. Returns a TokenSource for use with Client
func Login(
	ctx context.Context,
	tokenPath string,
	creds ClientCredentials,
	display func(DeviceAuth),
	logger *slog.Logger,
) (TokenSource, error) {
	cfg, err := oauthConfig(creds)
	if err != nil {
		return nil, err
	}

	return doLogin(ctx, tokenPath, cfg, display, logger)
}

// doLogin implements the device code flow. Accepts a pre-built oauth2.Config
// so tests can inject a mock endpoint.
func doLogin(
	ctx context.Context,
	tokenPath string,
	cfg *oauth2.Config,
	display func(DeviceAuth),
	logger *slog.Logger,
) (TokenSource, error) {
	logger.Info("starting device code auth flow", slog.String("path", tokenPath))

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("drive: device auth request failed: %w", err)
	}

	logger.Info("device code received, waiting for user authorization")

	display(DeviceAuth{
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
	})

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("drive: device code authorization failed: %w", err)
	}

	logger.Info("user authorized, saving token", slog.Time("expiry", tok.Expiry))

	if saveErr := tokenfile.Save(tokenPath, tok); saveErr != nil {
		return nil, fmt.Errorf("drive: saving token: %w", saveErr)
	}

	return newTokenBridge(cfg.TokenSource(ctx, tok), tokenPath, tok, logger), nil
}

// TokenSourceFromPath loads a saved token from disk and wraps it in an
// auto-refreshing TokenSource. Refreshed tokens are persisted back to the
// same path. Returns ErrNotLoggedIn if no token file exists.
func TokenSourceFromPath(ctx context.Context, tokenPath string, creds ClientCredentials, logger *slog.Logger) (TokenSource, error) {
	tok, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	expired := !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now())
	logger.Info("loaded saved token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("expired", expired),
	)

	cfg, err := oauthConfig(creds)
	if err != nil {
		return nil, err
	}

	return newTokenBridge(cfg.TokenSource(ctx, tok), tokenPath, tok, logger), nil
}

// Logout removes the saved token file at the given path.
// Returns nil if the token file does not exist (already logged out).
func Logout(tokenPath string, logger *slog.Logger) error {
	err := os.Remove(tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("logout: no token file to remove (already logged out)",
			slog.String("path", tokenPath),
		)

		return nil
	}

	if err != nil {
		return err
	}

	logger.Info("logout: removed token file", slog.String("path", tokenPath))

	return nil
}

// oauthConfig builds the oauth2.Config for the registered client.
func oauthConfig(creds ClientCredentials) (*oauth2.Config, error) {
	if creds.ClientID == "" {
		return nil, fmt.Errorf("drive: no OAuth client ID configured — set client_id under [auth] in the config file")
	}

	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       []string{driveScope},
		Endpoint:     googleEndpoint,
	}, nil
}

// tokenBridge adapts oauth2.TokenSource to drive.TokenSource and persists
// refreshed tokens back to disk. The oauth2 library refreshes silently
// inside Token(), so the bridge detects a refresh by comparing access
// tokens across calls.
type tokenBridge struct {
	src       oauth2.TokenSource
	tokenPath string
	logger    *slog.Logger

	mu         gosync.Mutex
	lastAccess string
}

func newTokenBridge(src oauth2.TokenSource, tokenPath string, current *oauth2.Token, logger *slog.Logger) *tokenBridge {
	b := &tokenBridge{
		src:       src,
		tokenPath: tokenPath,
		logger:    logger,
	}

	if current != nil {
		b.lastAccess = current.AccessToken
	}

	return b
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("drive: obtaining token: %w", err)
	}

	b.mu.Lock()
	refreshed := t.AccessToken != b.lastAccess
	b.lastAccess = t.AccessToken
	b.mu.Unlock()

	if refreshed {
		b.logger.Info("token refreshed, persisting",
			slog.String("path", b.tokenPath),
			slog.Time("new_expiry", t.Expiry),
		)

		if saveErr := tokenfile.Save(b.tokenPath, t); saveErr != nil {
			b.logger.Warn("failed to persist refreshed token",
				slog.String("path", b.tokenPath),
				slog.String("error", saveErr.Error()),
			)
		}
	}

	return t.AccessToken, nil
}
