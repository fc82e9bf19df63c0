package providers

import (
	"context"
	"time"

	"go-freight/internal/common/apperrors"
)

type ProviderType string

const (
	ProviderKeepTruckin ProviderType = "keeptruckin"
	ProviderSamsara     ProviderType = "samsara"
	ProviderOmnitracs   ProviderType = "omnitracs"
	ProviderMcLeod      ProviderType = "mcleod"
	ProviderTMW         ProviderType = "tmw"
	ProviderMercuryGate ProviderType = "mercurygate"
)

// Category splits the fleet-telematics providers from the back-office ones.
type Category string

const (
	CategoryELD Category = "eld"
	CategoryTMS Category = "tms"
)

type IntegrationType string

const (
	IntegrationOAuth  IntegrationType = "oauth"
	IntegrationAPIKey IntegrationType = "api_key"
	IntegrationSFTP   IntegrationType = "sftp"
	IntegrationEDI    IntegrationType = "edi"
)

type EntityType string

const (
	EntityLoads    EntityType = "loads"
	EntityCarriers EntityType = "carriers"
	EntityDrivers  EntityType = "drivers"
	EntityVehicles EntityType = "vehicles"
)

// ValidEntityType reports whether s names a syncable entity type.
func ValidEntityType(s string) bool {
	switch EntityType(s) {
	case EntityLoads, EntityCarriers, EntityDrivers, EntityVehicles:
		return true
	}
	return false
}

type OAuthCredential struct {
	AccessToken  string    `bson:"access_token" json:"access_token"`
	RefreshToken string    `bson:"refresh_token" json:"refresh_token"`
	ExpiresAt    time.Time `bson:"expires_at" json:"expires_at"`
}

type APIKeyCredential struct {
	Key    string `bson:"key" json:"key"`
	Secret string `bson:"secret" json:"secret"`
}

type SFTPCredential struct {
	Host      string `bson:"host" json:"host"`
	Port      int    `bson:"port" json:"port"`
	User      string `bson:"user" json:"user"`
	SecretRef string `bson:"secret_ref" json:"secret_ref"`
	Path      string `bson:"path" json:"path"`
}

type EDICredential struct {
	TradingPartnerID string `bson:"trading_partner_id" json:"trading_partner_id"`
	InterchangeID    string `bson:"interchange_id" json:"interchange_id"`
	Qualifier        string `bson:"qualifier" json:"qualifier"`
}

// Credential is a tagged union keyed by Type. Exactly one variant is
// populated; Validate enforces it so invalid combinations never reach an
// adapter.
type Credential struct {
	Type   IntegrationType   `bson:"type" json:"type"`
	OAuth  *OAuthCredential  `bson:"oauth,omitempty" json:"oauth,omitempty"`
	APIKey *APIKeyCredential `bson:"api_key,omitempty" json:"api_key,omitempty"`
	SFTP   *SFTPCredential   `bson:"sftp,omitempty" json:"sftp,omitempty"`
	EDI    *EDICredential    `bson:"edi,omitempty" json:"edi,omitempty"`
}

// Validate checks the variant matches the tag and carries the required fields.
func (c *Credential) Validate() error {
	if c == nil {
		return apperrors.Validation("credential is required")
	}

	populated := 0
	if c.OAuth != nil {
		populated++
	}
	if c.APIKey != nil {
		populated++
	}
	if c.SFTP != nil {
		populated++
	}
	if c.EDI != nil {
		populated++
	}
	if populated != 1 {
		return apperrors.Validation("exactly one credential variant must be populated, got %d", populated)
	}

	switch c.Type {
	case IntegrationOAuth:
		if c.OAuth == nil {
			return apperrors.Validation("oauth integration requires an oauth credential")
		}
		if c.OAuth.AccessToken == "" {
			return apperrors.Validation("oauth credential requires an access token")
		}
	case IntegrationAPIKey:
		if c.APIKey == nil {
			return apperrors.Validation("api_key integration requires an api key credential")
		}
		if c.APIKey.Key == "" {
			return apperrors.Validation("api key credential requires a key")
		}
	case IntegrationSFTP:
		if c.SFTP == nil {
			return apperrors.Validation("sftp integration requires an sftp credential")
		}
		if c.SFTP.Host == "" || c.SFTP.User == "" {
			return apperrors.Validation("sftp credential requires host and user")
		}
	case IntegrationEDI:
		if c.EDI == nil {
			return apperrors.Validation("edi integration requires an edi credential")
		}
		if c.EDI.TradingPartnerID == "" || c.EDI.InterchangeID == "" {
			return apperrors.Validation("edi credential requires trading partner and interchange ids")
		}
	default:
		return apperrors.Validation("unknown integration type: %s", c.Type)
	}
	return nil
}

// Usable reports whether the credential can still back an ACTIVE connection:
// structurally valid and, for OAuth, not expired without a refresh token.
func (c *Credential) Usable(now time.Time) bool {
	if err := c.Validate(); err != nil {
		return false
	}
	if c.Type == IntegrationOAuth {
		if c.OAuth.ExpiresAt.Before(now) && c.OAuth.RefreshToken == "" {
			return false
		}
	}
	return true
}

// AuthArtifact is what a caller holds before a usable credential exists: an
// OAuth authorization code, or an already-assembled credential for the
// manual-entry providers.
type AuthArtifact struct {
	Code        string
	RedirectURI string
	Credential  *Credential
}

// Window is a half-open [Start, End) incremental-sync range. Providers that
// cannot serve windowed queries ignore it and return a full snapshot.
type Window struct {
	Start time.Time
	End   time.Time
}

// Page is one page of provider records.
type Page struct {
	Records    []map[string]any
	NextCursor string
}

type HOSStatus struct {
	ProviderDriverID string         `json:"provider_driver_id"`
	DutyStatus       string         `json:"duty_status"`
	DriveRemaining   time.Duration  `json:"drive_remaining"`
	ShiftRemaining   time.Duration  `json:"shift_remaining"`
	CycleRemaining   time.Duration  `json:"cycle_remaining"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Raw              map[string]any `json:"raw,omitempty"`
}

type HOSLog struct {
	ProviderDriverID string    `json:"provider_driver_id"`
	DutyStatus       string    `json:"duty_status"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	Remark           string    `json:"remark,omitempty"`
}

type Location struct {
	ProviderDriverID string    `json:"provider_driver_id"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	SpeedMph         float64   `json:"speed_mph"`
	Bearing          float64   `json:"bearing"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// Load is the outbound shipment shape pushed to TMS providers.
type Load struct {
	ID          string         `json:"id"`
	ReferenceNo string         `json:"reference_no"`
	Status      string         `json:"status"`
	Origin      string         `json:"origin"`
	Destination string         `json:"destination"`
	PickupAt    time.Time      `json:"pickup_at"`
	DeliverBy   time.Time      `json:"deliver_by"`
	Detail      map[string]any `json:"detail,omitempty"`
}

// ProviderEvent is the adapter-parsed form of an inbound webhook before
// canonical mapping.
type ProviderEvent struct {
	EventID    string
	AccountID  string
	Type       string
	EntityID   string
	OccurredAt time.Time
	Revocation bool
	Data       map[string]any
}

// Adapter is the single capability contract every provider implements.
// Orchestration code never branches on ProviderType; it resolves an Adapter
// from the Registry and calls through this interface. Operations a provider
// cannot serve return a validation-class "not supported" error.
type Adapter interface {
	Type() ProviderType
	Category() Category
	Integration() IntegrationType

	// Authenticate exchanges an authorization artifact for a usable credential.
	Authenticate(ctx context.Context, artifact AuthArtifact) (*Credential, error)
	// AuthorizationURL builds the provider's OAuth consent URL. OAuth providers only.
	AuthorizationURL(redirectURI, state string) (string, error)
	// RefreshToken exchanges a refresh token for a fresh access token. OAuth providers only.
	RefreshToken(ctx context.Context, cred *Credential) (*Credential, error)

	// TestConnection performs a lightweight authenticated call without mutating provider state.
	TestConnection(ctx context.Context, cred *Credential) error

	// SyncEntity pulls one page of provider data for the given entity type.
	SyncEntity(ctx context.Context, cred *Credential, entity EntityType, window *Window, cursor string) (*Page, error)

	// TMS-only load operations.
	PushLoad(ctx context.Context, cred *Credential, load Load) error
	UpdateLoadStatus(ctx context.Context, cred *Credential, loadID, status string) error

	// ELD-only reads, keyed by the provider's own driver identifier.
	DriverHOS(ctx context.Context, cred *Credential, providerDriverID string) (*HOSStatus, error)
	DriverHOSLogs(ctx context.Context, cred *Credential, providerDriverID string, window *Window) ([]HOSLog, error)
	DriverLocation(ctx context.Context, cred *Credential, providerDriverID string) (*Location, error)

	// Webhook handling: wire formats are adapter implementation detail.
	VerifyWebhook(secret string, payload []byte, signature string) error
	ParseWebhook(payload []byte) (*ProviderEvent, error)
}

// ErrNotSupported is the shared "this provider has no such operation" error.
func ErrNotSupported(p ProviderType, op string) error {
	return apperrors.Validation("%s does not support %s", p, op)
}
