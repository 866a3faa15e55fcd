// Package auth supplies OAuth2 bearer credentials for Google Drive and keeps
// the token cached on disk between runs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"drivebyfix/pkg/remote"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drivev3 "google.golang.org/api/drive/v3"
)

var (
	ErrNoClientCredentials = errors.New("oauth client credentials not found")
	ErrStateMismatch       = errors.New("oauth state mismatch")
)

// Scopes requested at sign-in. Full Drive access is needed to overwrite
// file content and create the backup folder.
var Scopes = []string{drivev3.DriveScope}

// LoadOAuthConfig reads an OAuth client JSON file as downloaded from the
// Google Cloud console.
func LoadOAuthConfig(credentialsFile string, scopes ...string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoClientCredentials, credentialsFile)
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	if len(scopes) == 0 {
		scopes = Scopes
	}
	cfg, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return cfg, nil
}

type Authenticator struct {
	config *oauth2.Config
	store  *TokenStore
	logger *zap.Logger
}

func NewAuthenticator(config *oauth2.Config, store *TokenStore, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{config: config, store: store, logger: logger}
}

// AuthCodeURL returns the consent page URL for a manual sign-in.
func (a *Authenticator) AuthCodeURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and caches it.
func (a *Authenticator) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return a.exchange(ctx, a.config, code)
}

func (a *Authenticator) exchange(ctx context.Context, cfg *oauth2.Config, code string) (*oauth2.Token, error) {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := a.store.Save(tok); err != nil {
		return nil, err
	}
	a.logger.Info("Signed in", zap.Time("expiry", tok.Expiry))
	return tok, nil
}

// Login runs the loopback sign-in flow: it listens on a local port, hands
// the consent URL to open, and waits for the browser redirect.
func (a *Authenticator) Login(ctx context.Context, open func(url string) error) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen for oauth redirect: %w", err)
	}

	cfg := *a.config
	cfg.RedirectURL = fmt.Sprintf("http://%s/callback", ln.Addr())
	state := uuid.NewString()

	type callback struct {
		code string
		err  error
	}
	results := make(chan callback, 1)
	deliver := func(c callback) {
		select {
		case results <- c:
		default:
		}
	}

	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/callback" {
				http.NotFound(w, r)
				return
			}
			q := r.URL.Query()
			switch {
			case q.Get("state") != state:
				http.Error(w, "state mismatch", http.StatusBadRequest)
				deliver(callback{err: ErrStateMismatch})
			case q.Get("error") != "":
				http.Error(w, "sign-in was not completed", http.StatusBadRequest)
				deliver(callback{err: fmt.Errorf("authorization denied: %s", q.Get("error"))})
			default:
				fmt.Fprintln(w, "Signed in to drivebyfix. You can close this window.")
				deliver(callback{code: q.Get("code")})
			}
		}),
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			deliver(callback{err: fmt.Errorf("oauth redirect listener: %w", err)})
		}
	}()
	defer srv.Close()

	if err := open(cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		return a.exchange(ctx, &cfg, res.code)
	}
}

// TokenSource returns a source backed by the cached token. Refreshed tokens
// are written back to the cache.
func (a *Authenticator) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	tok, err := a.store.Load()
	if err != nil {
		return nil, err
	}
	return &savingTokenSource{
		base:   a.config.TokenSource(ctx, tok),
		store:  a.store,
		last:   tok.AccessToken,
		logger: a.logger,
	}, nil
}

// Client returns an HTTP client that authorizes every request.
func (a *Authenticator) Client(ctx context.Context) (*http.Client, error) {
	ts, err := a.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, ts), nil
}

// Logout removes the cached token.
func (a *Authenticator) Logout() error {
	return a.store.Delete()
}

type Status struct {
	SignedIn    bool
	Expiry      time.Time
	Refreshable bool
	TokenFile   string
}

func (a *Authenticator) Status() (Status, error) {
	status := Status{TokenFile: a.store.Path()}
	tok, err := a.store.Load()
	if errors.Is(err, remote.ErrNotSignedIn) {
		return status, nil
	}
	if err != nil {
		return status, err
	}
	status.SignedIn = true
	status.Expiry = tok.Expiry
	status.Refreshable = tok.RefreshToken != ""
	return status, nil
}

type savingTokenSource struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	store  *TokenStore
	last   string
	logger *zap.Logger
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, fmt.Errorf("%w: token refresh rejected: %w", remote.ErrNotSignedIn, err)
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := s.store.Save(tok); err != nil {
			s.logger.Warn("Failed to persist refreshed token", zap.Error(err))
		} else {
			s.logger.Debug("Refreshed token saved", zap.Time("expiry", tok.Expiry))
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}
