package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"go-freight/internal/common/apperrors"
)

// tmwAdapter integrates with TMW (Trimble TMW.Suite). The primary exchange is
// flat files over the customer's SFTP drop; record pulls and pushes go through
// the TMW cloud bridge REST gateway using the same SFTP account as basic auth.
// Windowed queries are not supported — every pull is a full export snapshot.
type tmwAdapter struct {
	client *httpClient
}

// NewTMW builds the TMW adapter.
func NewTMW() Adapter {
	return &tmwAdapter{
		client: newHTTPClient(ProviderTMW, "https://bridge.tmwcloud.com/api", 2),
	}
}

func (a *tmwAdapter) Type() ProviderType           { return ProviderTMW }
func (a *tmwAdapter) Category() Category           { return CategoryTMS }
func (a *tmwAdapter) Integration() IntegrationType { return IntegrationSFTP }

func (a *tmwAdapter) headers(cred *Credential) map[string]string {
	raw := cred.SFTP.User + ":" + cred.SFTP.SecretRef
	return map[string]string{
		"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte(raw)),
		"X-TMW-Path":    cred.SFTP.Path,
	}
}

func (a *tmwAdapter) Authenticate(ctx context.Context, artifact AuthArtifact) (*Credential, error) {
	cred := artifact.Credential
	if cred == nil {
		return nil, apperrors.Authentication("tmw requires an sftp credential")
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	if err := a.TestConnection(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

func (a *tmwAdapter) AuthorizationURL(string, string) (string, error) {
	return "", ErrNotSupported(ProviderTMW, "oauth authorization")
}

func (a *tmwAdapter) RefreshToken(context.Context, *Credential) (*Credential, error) {
	return nil, ErrNotSupported(ProviderTMW, "token refresh")
}

// TestConnection proves the SFTP endpoint is reachable and the bridge accepts
// the account. The drop itself is not written to.
func (a *tmwAdapter) TestConnection(ctx context.Context, cred *Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	port := cred.SFTP.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cred.SFTP.Host, strconv.Itoa(port))

	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return apperrors.Wrap(apperrors.ClassProviderUnavailable, err, "tmw sftp endpoint %s unreachable", addr)
	}
	conn.Close()

	return a.client.doJSON(ctx, "GET", "/account", nil, a.headers(cred), nil, nil)
}

var tmwEntityPaths = map[EntityType]string{
	EntityLoads:    "/exports/orders",
	EntityCarriers: "/exports/carriers",
	EntityDrivers:  "/exports/drivers",
	EntityVehicles: "/exports/tractors",
}

func (a *tmwAdapter) SyncEntity(ctx context.Context, cred *Credential, entity EntityType, _ *Window, cursor string) (*Page, error) {
	path, ok := tmwEntityPaths[entity]
	if !ok {
		return nil, ErrNotSupported(ProviderTMW, fmt.Sprintf("syncing %s", entity))
	}

	query := url.Values{}
	if cursor != "" {
		query.Set("batch", cursor)
	}

	var body map[string]any
	if err := a.client.doJSON(ctx, "GET", path, query, a.headers(cred), nil, &body); err != nil {
		return nil, err
	}
	return pageFromEnvelope(body, "rows", "nextBatch"), nil
}

// tmwStatusMap translates internal load statuses to TMW dispatch statuses.
var tmwStatusMap = map[string]string{
	"pending":    "AVL",
	"dispatched": "DSP",
	"in_transit": "STD",
	"delivered":  "CMP",
	"cancelled":  "CAN",
}

func (a *tmwAdapter) PushLoad(ctx context.Context, cred *Credential, load Load) error {
	payload := map[string]any{
		"orderNumber": load.ID,
		"reference":   load.ReferenceNo,
		"status":      tmwStatus(load.Status),
		"origin":      load.Origin,
		"destination": load.Destination,
		"pickup":      load.PickupAt.UTC().Format(time.RFC3339),
		"delivery":    load.DeliverBy.UTC().Format(time.RFC3339),
		"detail":      load.Detail,
	}
	return a.client.doJSON(ctx, "POST", "/imports/orders", nil, a.headers(cred), payload, nil)
}

func (a *tmwAdapter) UpdateLoadStatus(ctx context.Context, cred *Credential, loadID, status string) error {
	payload := map[string]any{"status": tmwStatus(status)}
	path := "/imports/orders/" + url.PathEscape(loadID) + "/status"
	return a.client.doJSON(ctx, "PUT", path, nil, a.headers(cred), payload, nil)
}

func tmwStatus(internal string) string {
	if code, ok := tmwStatusMap[internal]; ok {
		return code
	}
	return "AVL"
}

func (a *tmwAdapter) DriverHOS(context.Context, *Credential, string) (*HOSStatus, error) {
	return nil, ErrNotSupported(ProviderTMW, "driver hos")
}

func (a *tmwAdapter) DriverHOSLogs(context.Context, *Credential, string, *Window) ([]HOSLog, error) {
	return nil, ErrNotSupported(ProviderTMW, "driver hos logs")
}

func (a *tmwAdapter) DriverLocation(context.Context, *Credential, string) (*Location, error) {
	return nil, ErrNotSupported(ProviderTMW, "driver location")
}

func (a *tmwAdapter) VerifyWebhook(secret string, payload []byte, signature string) error {
	return verifyHMAC(ProviderTMW, secret, payload, signature, "")
}

type tmwWebhookEnvelope struct {
	MessageID string         `json:"messageId"`
	Account   string         `json:"account"`
	Topic     string         `json:"topic"`
	QueuedAt  string         `json:"queuedAt"`
	Record    map[string]any `json:"record"`
}

func (a *tmwAdapter) ParseWebhook(payload []byte) (*ProviderEvent, error) {
	var env tmwWebhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, apperrors.Validation("malformed tmw webhook: %v", err)
	}
	if env.Topic == "" || env.Account == "" {
		return nil, apperrors.Validation("tmw webhook missing topic or account")
	}

	evt := &ProviderEvent{
		EventID:    env.MessageID,
		AccountID:  env.Account,
		Type:       env.Topic,
		OccurredAt: getTime(map[string]any{"t": env.QueuedAt}, "t"),
		Data:       env.Record,
	}
	if env.Record != nil {
		evt.EntityID = getString(env.Record, "orderNumber")
	}
	if env.Topic == "account.disabled" {
		evt.Revocation = true
	}
	return evt, nil
}
