package providers

import (
	"encoding/json"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/config"
)

// NewSamsara builds the adapter for the Samsara fleet API.
func NewSamsara(app config.OAuthApp) Adapter {
	return newELDAdapter(eldProfile{
		provider: ProviderSamsara,
		baseURL:  "https://api.samsara.com",
		authURL:  "https://api.samsara.com/oauth2/authorize",
		tokenURL: "https://api.samsara.com/oauth2/token",
		scopes:   []string{"fleet:read", "drivers:read"},
		rps:      5,

		pingPath: "/me",
		entityPaths: map[EntityType]string{
			EntityDrivers:  "/fleet/drivers",
			EntityVehicles: "/fleet/vehicles",
		},
		windowed:   true,
		recordsKey: "data",
		cursorKey:  "endCursor",

		hosPath:      "/fleet/hos/clocks/%s",
		hosLogsPath:  "/fleet/hos/logs/%s",
		locationPath: "/fleet/drivers/%s/locations",

		sigPrefix: "v1=",

		parseWebhook:  parseSamsaraWebhook,
		parseHOS:      parseSamsaraHOS,
		parseHOSLogs:  parseSamsaraHOSLogs,
		parseLocation: parseSamsaraLocation,
	}, app.ClientID, app.ClientSecret)
}

// samsaraEnvelope nests the event under "event" with the org id at the top.
type samsaraEnvelope struct {
	EventID string `json:"eventId"`
	OrgID   string `json:"orgId"`
	EventAt string `json:"eventTime"`
	Event   struct {
		Type string         `json:"eventType"`
		Data map[string]any `json:"data"`
	} `json:"event"`
}

func parseSamsaraWebhook(payload []byte) (*ProviderEvent, error) {
	var env samsaraEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, apperrors.Validation("malformed samsara webhook: %v", err)
	}
	if env.Event.Type == "" || env.OrgID == "" {
		return nil, apperrors.Validation("samsara webhook missing eventType or orgId")
	}

	evt := &ProviderEvent{
		EventID:    env.EventID,
		AccountID:  env.OrgID,
		Type:       env.Event.Type,
		OccurredAt: getTime(map[string]any{"t": env.EventAt}, "t"),
		Data:       env.Event.Data,
	}
	if env.Event.Data != nil {
		evt.EntityID = getString(env.Event.Data, "id")
	}
	switch env.Event.Type {
	case "AccessRevoked", "AppUninstalled":
		evt.Revocation = true
	}
	return evt, nil
}

func parseSamsaraHOS(body map[string]any) (*HOSStatus, error) {
	data := getMap(body, "data")
	if data == nil {
		return nil, apperrors.Validation("samsara hos response missing data")
	}
	clocks := getMap(data, "clocks")
	return &HOSStatus{
		ProviderDriverID: getString(data, "driverId"),
		DutyStatus:       getString(data, "currentDutyStatus"),
		DriveRemaining:   minutes(clocks, "driveMinutesRemaining"),
		ShiftRemaining:   minutes(clocks, "shiftMinutesRemaining"),
		CycleRemaining:   minutes(clocks, "cycleMinutesRemaining"),
		UpdatedAt:        getTime(data, "updatedAtTime"),
		Raw:              data,
	}, nil
}

func parseSamsaraHOSLogs(body map[string]any) ([]HOSLog, error) {
	var logs []HOSLog
	for _, item := range getSlice(body, "data") {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		logs = append(logs, HOSLog{
			ProviderDriverID: getString(m, "driverId"),
			DutyStatus:       getString(m, "hosStatusType"),
			StartedAt:        getTime(m, "logStartTime"),
			EndedAt:          getTime(m, "logEndTime"),
			Remark:           getString(m, "remark"),
		})
	}
	return logs, nil
}

func parseSamsaraLocation(body map[string]any) (*Location, error) {
	data := getMap(body, "data")
	if data == nil {
		return nil, apperrors.Validation("samsara location response missing data")
	}
	return &Location{
		ProviderDriverID: getString(data, "driverId"),
		Latitude:         getFloat(data, "latitude"),
		Longitude:        getFloat(data, "longitude"),
		SpeedMph:         getFloat(data, "speedMilesPerHour"),
		Bearing:          getFloat(data, "heading"),
		RecordedAt:       getTime(data, "time"),
	}, nil
}
