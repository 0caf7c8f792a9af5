package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Alert is one alert record listed by the REST backend or pushed in a new-alert frame.
// Params: backend identifier, read flag, and descriptive fields used by UI surfaces.
// Returns: alert data consumed by deduplication and notifications.
type Alert struct {
	ID       int64  `json:"id"`
	Read     bool   `json:"leido"`
	Kind     string `json:"tipo,omitempty"`
	Message  string `json:"mensaje,omitempty"`
	Resident string `json:"adulto_mayor,omitempty"`
	Date     string `json:"fecha,omitempty"`
}

// DecodeAlertPayload decodes opaque alert payload carried by a new-alert frame.
// Params: raw JSON object.
// Returns: alert with positive identifier or decode error.
func DecodeAlertPayload(raw json.RawMessage) (Alert, error) {
	if len(raw) == 0 {
		return Alert{}, errors.New("alert payload is empty")
	}
	var alert Alert
	if err := json.Unmarshal(raw, &alert); err != nil {
		return Alert{}, fmt.Errorf("decode alert payload: %w", err)
	}
	if alert.ID <= 0 {
		return Alert{}, errors.New("alert payload id must be >0")
	}
	return alert, nil
}

// NotificationKindNewAlert tags local notifications raised for newly observed alerts.
const NotificationKindNewAlert = "nueva_alerta"

// LocalNotification is one OS-level notification request.
// Params: title, body, and data payload with tipo discriminator and alert id.
// Returns: payload for notification sinks.
type LocalNotification struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data"`
	Alert Alert          `json:"-"`
}

// NewAlertNotification builds the local notification for one newly observed alert.
// Params: alert record.
// Returns: notification with tipo and alertId data fields.
func NewAlertNotification(alert Alert) LocalNotification {
	body := alert.Message
	if body == "" {
		body = "Alerta #" + strconv.FormatInt(alert.ID, 10)
	}
	return LocalNotification{
		Title: "Nueva alerta",
		Body:  body,
		Data: map[string]any{
			"tipo":    NotificationKindNewAlert,
			"alertId": alert.ID,
		},
		Alert: alert,
	}
}
