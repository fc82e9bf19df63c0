package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go-freight/internal/common/apperrors"
)

// mcleodAdapter talks to the McLeod LoadMaster REST API with key/secret
// header auth.
type mcleodAdapter struct {
	client *httpClient
}

// NewMcLeod builds the adapter for McLeod LoadMaster.
func NewMcLeod() Adapter {
	return &mcleodAdapter{
		client: newHTTPClient(ProviderMcLeod, "https://api.mcleodsoftware.com/lme/rest", 3),
	}
}

func (a *mcleodAdapter) Type() ProviderType           { return ProviderMcLeod }
func (a *mcleodAdapter) Category() Category           { return CategoryTMS }
func (a *mcleodAdapter) Integration() IntegrationType { return IntegrationAPIKey }

func (a *mcleodAdapter) headers(cred *Credential) map[string]string {
	return map[string]string{
		"X-Api-Key":    cred.APIKey.Key,
		"X-Api-Secret": cred.APIKey.Secret,
	}
}

func (a *mcleodAdapter) Authenticate(ctx context.Context, artifact AuthArtifact) (*Credential, error) {
	cred := artifact.Credential
	if cred == nil {
		return nil, apperrors.Authentication("mcleod requires an api key credential")
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	// Key pairs are issued out of band; prove them before accepting.
	if err := a.TestConnection(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

func (a *mcleodAdapter) AuthorizationURL(string, string) (string, error) {
	return "", ErrNotSupported(ProviderMcLeod, "oauth authorization")
}

func (a *mcleodAdapter) RefreshToken(context.Context, *Credential) (*Credential, error) {
	return nil, ErrNotSupported(ProviderMcLeod, "token refresh")
}

func (a *mcleodAdapter) TestConnection(ctx context.Context, cred *Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	return a.client.doJSON(ctx, "GET", "/company/profile", nil, a.headers(cred), nil, nil)
}

var mcleodEntityPaths = map[EntityType]string{
	EntityLoads:    "/orders",
	EntityCarriers: "/carriers",
	EntityDrivers:  "/drivers",
}

func (a *mcleodAdapter) SyncEntity(ctx context.Context, cred *Credential, entity EntityType, window *Window, cursor string) (*Page, error) {
	path, ok := mcleodEntityPaths[entity]
	if !ok {
		return nil, ErrNotSupported(ProviderMcLeod, fmt.Sprintf("syncing %s", entity))
	}

	query := url.Values{}
	if window != nil && !window.Start.IsZero() {
		query.Set("modifiedSince", window.Start.UTC().Format(time.RFC3339))
	}
	if window != nil && !window.End.IsZero() {
		query.Set("modifiedBefore", window.End.UTC().Format(time.RFC3339))
	}
	if cursor != "" {
		query.Set("pageToken", cursor)
	}

	var body map[string]any
	if err := a.client.doJSON(ctx, "GET", path, query, a.headers(cred), nil, &body); err != nil {
		return nil, err
	}
	return pageFromEnvelope(body, "results", "nextPageToken"), nil
}

// mcleodStatusMap translates internal load statuses to LoadMaster movement codes.
var mcleodStatusMap = map[string]string{
	"pending":    "A",
	"dispatched": "D",
	"in_transit": "P",
	"delivered":  "X",
	"cancelled":  "V",
}

func (a *mcleodAdapter) PushLoad(ctx context.Context, cred *Credential, load Load) error {
	payload := map[string]any{
		"orderId":       load.ID,
		"referenceNo":   load.ReferenceNo,
		"status":        mcleodStatus(load.Status),
		"origin":        load.Origin,
		"destination":   load.Destination,
		"pickupDate":    load.PickupAt.UTC().Format(time.RFC3339),
		"deliveryDate":  load.DeliverBy.UTC().Format(time.RFC3339),
		"orderDetail":   load.Detail,
	}
	return a.client.doJSON(ctx, "POST", "/orders", nil, a.headers(cred), payload, nil)
}

func (a *mcleodAdapter) UpdateLoadStatus(ctx context.Context, cred *Credential, loadID, status string) error {
	payload := map[string]any{"status": mcleodStatus(status)}
	path := "/orders/" + url.PathEscape(loadID) + "/status"
	return a.client.doJSON(ctx, "PUT", path, nil, a.headers(cred), payload, nil)
}

func mcleodStatus(internal string) string {
	if code, ok := mcleodStatusMap[internal]; ok {
		return code
	}
	return "A"
}

func (a *mcleodAdapter) DriverHOS(context.Context, *Credential, string) (*HOSStatus, error) {
	return nil, ErrNotSupported(ProviderMcLeod, "driver hos")
}

func (a *mcleodAdapter) DriverHOSLogs(context.Context, *Credential, string, *Window) ([]HOSLog, error) {
	return nil, ErrNotSupported(ProviderMcLeod, "driver hos logs")
}

func (a *mcleodAdapter) DriverLocation(context.Context, *Credential, string) (*Location, error) {
	return nil, ErrNotSupported(ProviderMcLeod, "driver location")
}

func (a *mcleodAdapter) VerifyWebhook(secret string, payload []byte, signature string) error {
	return verifyHMAC(ProviderMcLeod, secret, payload, signature, "")
}

type mcleodWebhookEnvelope struct {
	NotificationID string         `json:"notificationId"`
	CompanyCode    string         `json:"companyCode"`
	Action         string         `json:"action"`
	SentAt         string         `json:"sentAt"`
	Order          map[string]any `json:"order"`
}

func (a *mcleodAdapter) ParseWebhook(payload []byte) (*ProviderEvent, error) {
	var env mcleodWebhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, apperrors.Validation("malformed mcleod webhook: %v", err)
	}
	if env.Action == "" || env.CompanyCode == "" {
		return nil, apperrors.Validation("mcleod webhook missing action or companyCode")
	}

	evt := &ProviderEvent{
		EventID:    env.NotificationID,
		AccountID:  env.CompanyCode,
		Type:       env.Action,
		OccurredAt: getTime(map[string]any{"t": env.SentAt}, "t"),
		Data:       env.Order,
	}
	if env.Order != nil {
		evt.EntityID = getString(env.Order, "orderId")
	}
	if env.Action == "api_key.revoked" {
		evt.Revocation = true
	}
	return evt, nil
}
