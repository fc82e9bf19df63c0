package providers

import (
	"encoding/json"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/config"
)

// NewOmnitracs builds the adapter for the Omnitracs telematics API. Omnitracs
// cannot serve windowed queries; sync always returns a full snapshot and the
// orchestrator diffs client-side.
func NewOmnitracs(app config.OAuthApp) Adapter {
	return newELDAdapter(eldProfile{
		provider: ProviderOmnitracs,
		baseURL:  "https://api.omnitracs.com/v2",
		authURL:  "https://login.omnitracs.com/oauth/authorize",
		tokenURL: "https://login.omnitracs.com/oauth/token",
		scopes:   []string{"hos", "positions", "assets"},
		rps:      2,

		pingPath: "/account",
		entityPaths: map[EntityType]string{
			EntityDrivers:  "/drivers",
			EntityVehicles: "/assets",
		},
		windowed:   false,
		recordsKey: "items",
		cursorKey:  "nextPageToken",

		hosPath:      "/hos/drivers/%s/summary",
		hosLogsPath:  "/hos/drivers/%s/events",
		locationPath: "/positions/drivers/%s/latest",

		sigPrefix: "",

		parseWebhook:  parseOmnitracsWebhook,
		parseHOS:      parseOmnitracsHOS,
		parseHOSLogs:  parseOmnitracsHOSLogs,
		parseLocation: parseOmnitracsLocation,
	}, app.ClientID, app.ClientSecret)
}

type omnitracsEnvelope struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	AccountID string         `json:"accountId"`
	EmittedAt string         `json:"emittedAt"`
	Body      map[string]any `json:"body"`
}

func parseOmnitracsWebhook(payload []byte) (*ProviderEvent, error) {
	var env omnitracsEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, apperrors.Validation("malformed omnitracs webhook: %v", err)
	}
	if env.Kind == "" || env.AccountID == "" {
		return nil, apperrors.Validation("omnitracs webhook missing kind or accountId")
	}

	evt := &ProviderEvent{
		EventID:    env.ID,
		AccountID:  env.AccountID,
		Type:       env.Kind,
		OccurredAt: getTime(map[string]any{"t": env.EmittedAt}, "t"),
		Data:       env.Body,
	}
	if env.Body != nil {
		evt.EntityID = getString(env.Body, "entityId")
	}
	switch env.Kind {
	case "authorization.revoked", "account.disabled":
		evt.Revocation = true
	}
	return evt, nil
}

func parseOmnitracsHOS(body map[string]any) (*HOSStatus, error) {
	if len(body) == 0 {
		return nil, apperrors.Validation("omnitracs hos response is empty")
	}
	return &HOSStatus{
		ProviderDriverID: getString(body, "driverId"),
		DutyStatus:       getString(body, "dutyStatus"),
		DriveRemaining:   minutes(body, "driveRemainingMinutes"),
		ShiftRemaining:   minutes(body, "onDutyRemainingMinutes"),
		CycleRemaining:   minutes(body, "cycleRemainingMinutes"),
		UpdatedAt:        getTime(body, "asOf"),
		Raw:              body,
	}, nil
}

func parseOmnitracsHOSLogs(body map[string]any) ([]HOSLog, error) {
	var logs []HOSLog
	for _, item := range getSlice(body, "events") {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		logs = append(logs, HOSLog{
			ProviderDriverID: getString(m, "driverId"),
			DutyStatus:       getString(m, "dutyStatus"),
			StartedAt:        getTime(m, "startAt"),
			EndedAt:          getTime(m, "endAt"),
			Remark:           getString(m, "note"),
		})
	}
	return logs, nil
}

func parseOmnitracsLocation(body map[string]any) (*Location, error) {
	if len(body) == 0 {
		return nil, apperrors.Validation("omnitracs position response is empty")
	}
	return &Location{
		ProviderDriverID: getString(body, "driverId"),
		Latitude:         getFloat(body, "lat"),
		Longitude:        getFloat(body, "lon"),
		SpeedMph:         getFloat(body, "speedMph"),
		Bearing:          getFloat(body, "headingDegrees"),
		RecordedAt:       getTime(body, "recordedAt"),
	}, nil
}
