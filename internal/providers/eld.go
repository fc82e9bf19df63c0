package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go-freight/internal/common/apperrors"

	"golang.org/x/oauth2"
)

// eldProfile parameterizes the OAuth telematics adapters. The three vendors
// speak near-identical REST shapes; what differs is endpoints, envelopes and
// webhook wire formats, and those live in the per-provider files.
type eldProfile struct {
	provider ProviderType
	baseURL  string
	authURL  string
	tokenURL string
	scopes   []string
	rps      float64

	pingPath    string
	entityPaths map[EntityType]string
	// windowed reports whether the provider can serve incremental queries.
	// When false the window is ignored and a full snapshot is returned.
	windowed   bool
	recordsKey string
	cursorKey  string

	hosPath      string // fmt with provider driver id
	hosLogsPath  string
	locationPath string

	// sigPrefix is prepended to the hex HMAC digest in the signature header.
	sigPrefix string

	parseWebhook  func(payload []byte) (*ProviderEvent, error)
	parseHOS      func(body map[string]any) (*HOSStatus, error)
	parseHOSLogs  func(body map[string]any) ([]HOSLog, error)
	parseLocation func(body map[string]any) (*Location, error)
}

type eldAdapter struct {
	profile eldProfile
	oauth   *oauth2.Config
	client  *httpClient
}

func newELDAdapter(profile eldProfile, clientID, clientSecret string) *eldAdapter {
	return &eldAdapter{
		profile: profile,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       profile.scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  profile.authURL,
				TokenURL: profile.tokenURL,
			},
		},
		client: newHTTPClient(profile.provider, profile.baseURL, profile.rps),
	}
}

func (a *eldAdapter) Type() ProviderType           { return a.profile.provider }
func (a *eldAdapter) Category() Category           { return CategoryELD }
func (a *eldAdapter) Integration() IntegrationType { return IntegrationOAuth }

func (a *eldAdapter) AuthorizationURL(redirectURI, state string) (string, error) {
	if redirectURI == "" || state == "" {
		return "", apperrors.Validation("redirect_uri and state are required")
	}
	cfg := *a.oauth
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

func (a *eldAdapter) Authenticate(ctx context.Context, artifact AuthArtifact) (*Credential, error) {
	// Tokens obtained out of band (e.g. a completed consent flow) pass
	// straight through after structural validation.
	if artifact.Credential != nil {
		if err := artifact.Credential.Validate(); err != nil {
			return nil, err
		}
		return artifact.Credential, nil
	}

	if artifact.Code == "" {
		return nil, apperrors.Authentication("%s authorization code is required", a.profile.provider)
	}

	cfg := *a.oauth
	cfg.RedirectURL = artifact.RedirectURI

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	token, err := cfg.Exchange(ctx, artifact.Code)
	if err != nil {
		return nil, a.mapOAuthError(err, "code exchange")
	}
	return credentialFromToken(token), nil
}

func (a *eldAdapter) RefreshToken(ctx context.Context, cred *Credential) (*Credential, error) {
	if cred == nil || cred.Type != IntegrationOAuth || cred.OAuth == nil {
		return nil, apperrors.Validation("%s refresh requires an oauth credential", a.profile.provider)
	}
	if cred.OAuth.RefreshToken == "" {
		return nil, apperrors.Authentication("%s credential has no refresh token", a.profile.provider)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	src := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.OAuth.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, a.mapOAuthError(err, "token refresh")
	}

	fresh := credentialFromToken(token)
	if fresh.OAuth.RefreshToken == "" {
		// Providers that rotate refresh tokens omit the old one on reuse.
		fresh.OAuth.RefreshToken = cred.OAuth.RefreshToken
	}
	return fresh, nil
}

func (a *eldAdapter) mapOAuthError(err error, op string) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		body := string(retrieve.Body)
		if retrieve.Response != nil && retrieve.Response.StatusCode >= 500 {
			return apperrors.Wrap(apperrors.ClassProviderUnavailable, err, "%s %s failed", a.profile.provider, op)
		}
		e := apperrors.Authentication("%s %s rejected", a.profile.provider, op)
		e.Err = err
		e.Permanent = looksRevoked(body)
		return e
	}
	return classifyTransport(a.profile.provider, err)
}

func (a *eldAdapter) TestConnection(ctx context.Context, cred *Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	return a.client.doJSON(ctx, "GET", a.profile.pingPath, nil, bearer(cred.OAuth.AccessToken), nil, nil)
}

func (a *eldAdapter) SyncEntity(ctx context.Context, cred *Credential, entity EntityType, window *Window, cursor string) (*Page, error) {
	path, ok := a.profile.entityPaths[entity]
	if !ok {
		return nil, ErrNotSupported(a.profile.provider, fmt.Sprintf("syncing %s", entity))
	}

	query := url.Values{}
	if a.profile.windowed && window != nil {
		if !window.Start.IsZero() {
			query.Set("updated_after", window.Start.UTC().Format(time.RFC3339))
		}
		if !window.End.IsZero() {
			query.Set("updated_before", window.End.UTC().Format(time.RFC3339))
		}
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var body map[string]any
	if err := a.client.doJSON(ctx, "GET", path, query, bearer(cred.OAuth.AccessToken), nil, &body); err != nil {
		return nil, err
	}

	return pageFromEnvelope(body, a.profile.recordsKey, a.profile.cursorKey), nil
}

func (a *eldAdapter) PushLoad(context.Context, *Credential, Load) error {
	return ErrNotSupported(a.profile.provider, "pushing loads")
}

func (a *eldAdapter) UpdateLoadStatus(context.Context, *Credential, string, string) error {
	return ErrNotSupported(a.profile.provider, "updating load status")
}

func (a *eldAdapter) DriverHOS(ctx context.Context, cred *Credential, providerDriverID string) (*HOSStatus, error) {
	var body map[string]any
	path := fmt.Sprintf(a.profile.hosPath, url.PathEscape(providerDriverID))
	if err := a.client.doJSON(ctx, "GET", path, nil, bearer(cred.OAuth.AccessToken), nil, &body); err != nil {
		return nil, err
	}
	return a.profile.parseHOS(body)
}

func (a *eldAdapter) DriverHOSLogs(ctx context.Context, cred *Credential, providerDriverID string, window *Window) ([]HOSLog, error) {
	query := url.Values{}
	if window != nil && !window.Start.IsZero() {
		query.Set("start_date", window.Start.UTC().Format("2006-01-02"))
	}
	if window != nil && !window.End.IsZero() {
		query.Set("end_date", window.End.UTC().Format("2006-01-02"))
	}

	var body map[string]any
	path := fmt.Sprintf(a.profile.hosLogsPath, url.PathEscape(providerDriverID))
	if err := a.client.doJSON(ctx, "GET", path, query, bearer(cred.OAuth.AccessToken), nil, &body); err != nil {
		return nil, err
	}
	return a.profile.parseHOSLogs(body)
}

func (a *eldAdapter) DriverLocation(ctx context.Context, cred *Credential, providerDriverID string) (*Location, error) {
	var body map[string]any
	path := fmt.Sprintf(a.profile.locationPath, url.PathEscape(providerDriverID))
	if err := a.client.doJSON(ctx, "GET", path, nil, bearer(cred.OAuth.AccessToken), nil, &body); err != nil {
		return nil, err
	}
	return a.profile.parseLocation(body)
}

func (a *eldAdapter) VerifyWebhook(secret string, payload []byte, signature string) error {
	return verifyHMAC(a.profile.provider, secret, payload, signature, a.profile.sigPrefix)
}

func (a *eldAdapter) ParseWebhook(payload []byte) (*ProviderEvent, error) {
	return a.profile.parseWebhook(payload)
}

func credentialFromToken(token *oauth2.Token) *Credential {
	return &Credential{
		Type: IntegrationOAuth,
		OAuth: &OAuthCredential{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresAt:    token.Expiry,
		},
	}
}

func pageFromEnvelope(body map[string]any, recordsKey, cursorKey string) *Page {
	page := &Page{}
	if raw, ok := body[recordsKey].([]any); ok {
		for _, item := range raw {
			if m, ok := item.(map[string]any); ok {
				page.Records = append(page.Records, m)
			}
		}
	}
	if cursor, ok := body[cursorKey].(string); ok {
		page.NextCursor = cursor
	}
	return page
}

// verifyHMAC checks an HMAC-SHA256 hex signature over the raw payload.
func verifyHMAC(p ProviderType, secret string, payload []byte, signature, prefix string) error {
	if secret == "" {
		return apperrors.WebhookVerification("%s webhook secret is not configured", p)
	}
	sig := strings.TrimPrefix(signature, prefix)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return apperrors.WebhookVerification("%s webhook signature mismatch", p)
	}
	return nil
}
