package providers

import (
	"encoding/json"

	"go-freight/internal/common/apperrors"
	"go-freight/internal/config"
)

// NewKeepTruckin builds the adapter for the KeepTruckin (Motive) telematics API.
func NewKeepTruckin(app config.OAuthApp) Adapter {
	return newELDAdapter(eldProfile{
		provider: ProviderKeepTruckin,
		baseURL:  "https://api.keeptruckin.com/v1",
		authURL:  "https://api.keeptruckin.com/oauth/authorize",
		tokenURL: "https://api.keeptruckin.com/oauth/token",
		scopes:   []string{"drivers.read", "vehicles.read", "hos.read", "locations.read"},
		rps:      4,

		pingPath: "/users/me",
		entityPaths: map[EntityType]string{
			EntityDrivers:  "/drivers",
			EntityVehicles: "/vehicles",
		},
		windowed:   true,
		recordsKey: "data",
		cursorKey:  "next_cursor",

		hosPath:      "/drivers/%s/hos_status",
		hosLogsPath:  "/drivers/%s/logs",
		locationPath: "/drivers/%s/last_known_location",

		sigPrefix: "sha256=",

		parseWebhook:  parseKeepTruckinWebhook,
		parseHOS:      parseKeepTruckinHOS,
		parseHOSLogs:  parseKeepTruckinHOSLogs,
		parseLocation: parseKeepTruckinLocation,
	}, app.ClientID, app.ClientSecret)
}

// keeptruckinEnvelope is the webhook wire shape: a flat envelope with the
// company id as account reference.
type keeptruckinEnvelope struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	CompanyID string         `json:"company_id"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

func parseKeepTruckinWebhook(payload []byte) (*ProviderEvent, error) {
	var env keeptruckinEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, apperrors.Validation("malformed keeptruckin webhook: %v", err)
	}
	if env.EventType == "" || env.CompanyID == "" {
		return nil, apperrors.Validation("keeptruckin webhook missing event_type or company_id")
	}

	evt := &ProviderEvent{
		EventID:    env.EventID,
		AccountID:  env.CompanyID,
		Type:       env.EventType,
		OccurredAt: getTime(map[string]any{"t": env.Timestamp}, "t"),
		Data:       env.Payload,
	}
	if env.Payload != nil {
		evt.EntityID = getString(env.Payload, "id")
	}
	switch env.EventType {
	case "token.revoked", "company.uninstalled":
		evt.Revocation = true
	}
	return evt, nil
}

func parseKeepTruckinHOS(body map[string]any) (*HOSStatus, error) {
	data := getMap(body, "hos_status")
	if data == nil {
		return nil, apperrors.Validation("keeptruckin hos response missing hos_status")
	}
	return &HOSStatus{
		ProviderDriverID: getString(data, "driver_id"),
		DutyStatus:       getString(data, "status"),
		DriveRemaining:   minutes(data, "drive_time_remaining"),
		ShiftRemaining:   minutes(data, "shift_time_remaining"),
		CycleRemaining:   minutes(data, "cycle_time_remaining"),
		UpdatedAt:        getTime(data, "updated_at"),
		Raw:              data,
	}, nil
}

func parseKeepTruckinHOSLogs(body map[string]any) ([]HOSLog, error) {
	var logs []HOSLog
	for _, item := range getSlice(body, "logs") {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		logs = append(logs, HOSLog{
			ProviderDriverID: getString(m, "driver_id"),
			DutyStatus:       getString(m, "status"),
			StartedAt:        getTime(m, "start_time"),
			EndedAt:          getTime(m, "end_time"),
			Remark:           getString(m, "remark"),
		})
	}
	return logs, nil
}

func parseKeepTruckinLocation(body map[string]any) (*Location, error) {
	data := getMap(body, "location")
	if data == nil {
		return nil, apperrors.Validation("keeptruckin location response missing location")
	}
	return &Location{
		ProviderDriverID: getString(data, "driver_id"),
		Latitude:         getFloat(data, "lat"),
		Longitude:        getFloat(data, "lon"),
		SpeedMph:         getFloat(data, "speed"),
		Bearing:          getFloat(data, "bearing"),
		RecordedAt:       getTime(data, "located_at"),
	}, nil
}
