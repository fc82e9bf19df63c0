package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go-freight/internal/common/apperrors"
)

// mercuryGateAdapter exchanges X12 EDI documents with MercuryGate through its
// HTTP EDI gateway: 204 load tenders out, 214 status updates both ways. The
// interchange identifiers authenticate the trading partnership.
type mercuryGateAdapter struct {
	client *httpClient
}

// NewMercuryGate builds the MercuryGate adapter.
func NewMercuryGate() Adapter {
	return &mercuryGateAdapter{
		client: newHTTPClient(ProviderMercuryGate, "https://edi.mercurygate.net/gateway", 2),
	}
}

func (a *mercuryGateAdapter) Type() ProviderType           { return ProviderMercuryGate }
func (a *mercuryGateAdapter) Category() Category           { return CategoryTMS }
func (a *mercuryGateAdapter) Integration() IntegrationType { return IntegrationEDI }

func (a *mercuryGateAdapter) headers(cred *Credential) map[string]string {
	return map[string]string{
		"X-Interchange-Id":        cred.EDI.InterchangeID,
		"X-Interchange-Qualifier": cred.EDI.Qualifier,
		"X-Trading-Partner":       cred.EDI.TradingPartnerID,
	}
}

func (a *mercuryGateAdapter) Authenticate(ctx context.Context, artifact AuthArtifact) (*Credential, error) {
	cred := artifact.Credential
	if cred == nil {
		return nil, apperrors.Authentication("mercurygate requires an edi credential")
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	if err := a.TestConnection(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

func (a *mercuryGateAdapter) AuthorizationURL(string, string) (string, error) {
	return "", ErrNotSupported(ProviderMercuryGate, "oauth authorization")
}

func (a *mercuryGateAdapter) RefreshToken(context.Context, *Credential) (*Credential, error) {
	return nil, ErrNotSupported(ProviderMercuryGate, "token refresh")
}

func (a *mercuryGateAdapter) TestConnection(ctx context.Context, cred *Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	// A 997 acknowledgement round-trip for an empty interchange.
	return a.client.doJSON(ctx, "GET", "/partnership/status", nil, a.headers(cred), nil, nil)
}

var mercuryGateEntityPaths = map[EntityType]string{
	EntityLoads:    "/documents/214",
	EntityCarriers: "/partners/carriers",
}

func (a *mercuryGateAdapter) SyncEntity(ctx context.Context, cred *Credential, entity EntityType, window *Window, cursor string) (*Page, error) {
	path, ok := mercuryGateEntityPaths[entity]
	if !ok {
		return nil, ErrNotSupported(ProviderMercuryGate, fmt.Sprintf("syncing %s", entity))
	}

	query := url.Values{}
	if window != nil && !window.Start.IsZero() {
		query.Set("receivedAfter", window.Start.UTC().Format(time.RFC3339))
	}
	if window != nil && !window.End.IsZero() {
		query.Set("receivedBefore", window.End.UTC().Format(time.RFC3339))
	}
	if cursor != "" {
		query.Set("continuation", cursor)
	}

	var body map[string]any
	if err := a.client.doJSON(ctx, "GET", path, query, a.headers(cred), nil, &body); err != nil {
		return nil, err
	}
	return pageFromEnvelope(body, "documents", "continuation"), nil
}

// mercuryGateStatusMap translates internal load statuses to X12 214 status codes.
var mercuryGateStatusMap = map[string]string{
	"pending":    "NS",
	"dispatched": "AP",
	"in_transit": "X6",
	"delivered":  "D1",
	"cancelled":  "CA",
}

func (a *mercuryGateAdapter) PushLoad(ctx context.Context, cred *Credential, load Load) error {
	payload := map[string]any{
		"documentType": "204",
		"shipmentId":   load.ID,
		"referenceNo":  load.ReferenceNo,
		"stops": []map[string]any{
			{"type": "pickup", "location": load.Origin, "scheduledAt": load.PickupAt.UTC().Format(time.RFC3339)},
			{"type": "delivery", "location": load.Destination, "scheduledAt": load.DeliverBy.UTC().Format(time.RFC3339)},
		},
		"detail": load.Detail,
	}
	return a.client.doJSON(ctx, "POST", "/documents/204", nil, a.headers(cred), payload, nil)
}

func (a *mercuryGateAdapter) UpdateLoadStatus(ctx context.Context, cred *Credential, loadID, status string) error {
	payload := map[string]any{
		"documentType": "214",
		"shipmentId":   loadID,
		"statusCode":   mercuryGateStatus(status),
	}
	return a.client.doJSON(ctx, "POST", "/documents/214", nil, a.headers(cred), payload, nil)
}

func mercuryGateStatus(internal string) string {
	if code, ok := mercuryGateStatusMap[internal]; ok {
		return code
	}
	return "NS"
}

func (a *mercuryGateAdapter) DriverHOS(context.Context, *Credential, string) (*HOSStatus, error) {
	return nil, ErrNotSupported(ProviderMercuryGate, "driver hos")
}

func (a *mercuryGateAdapter) DriverHOSLogs(context.Context, *Credential, string, *Window) ([]HOSLog, error) {
	return nil, ErrNotSupported(ProviderMercuryGate, "driver hos logs")
}

func (a *mercuryGateAdapter) DriverLocation(context.Context, *Credential, string) (*Location, error) {
	return nil, ErrNotSupported(ProviderMercuryGate, "driver location")
}

func (a *mercuryGateAdapter) VerifyWebhook(secret string, payload []byte, signature string) error {
	return verifyHMAC(ProviderMercuryGate, secret, payload, signature, "")
}

type mercuryGateWebhookEnvelope struct {
	ControlNumber string         `json:"controlNumber"`
	Interchange   string         `json:"interchangeId"`
	DocumentType  string         `json:"documentType"`
	ReceivedAt    string         `json:"receivedAt"`
	Document      map[string]any `json:"document"`
}

func (a *mercuryGateAdapter) ParseWebhook(payload []byte) (*ProviderEvent, error) {
	var env mercuryGateWebhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, apperrors.Validation("malformed mercurygate webhook: %v", err)
	}
	if env.DocumentType == "" || env.Interchange == "" {
		return nil, apperrors.Validation("mercurygate webhook missing documentType or interchangeId")
	}

	evt := &ProviderEvent{
		EventID:    env.ControlNumber,
		AccountID:  env.Interchange,
		Type:       "edi." + strings.ToLower(env.DocumentType),
		OccurredAt: getTime(map[string]any{"t": env.ReceivedAt}, "t"),
		Data:       env.Document,
	}
	if env.Document != nil {
		evt.EntityID = getString(env.Document, "shipmentId")
	}
	if env.DocumentType == "partnership.terminated" {
		evt.Revocation = true
	}
	return evt, nil
}
