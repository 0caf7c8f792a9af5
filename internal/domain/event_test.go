package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeFrameNewAlert(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"tipo":"nueva_alerta","mensaje":"caida detectada","timestamp":"2026-02-24T12:00:00.000Z","usuario":"u-1","alerta":{"id":42,"leido":false,"tipo":"caida"}}`)
	event, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if event.Kind != EventNewAlert {
		t.Fatalf("unexpected kind %q", event.Kind)
	}
	if event.Message != "caida detectada" || event.User != "u-1" {
		t.Fatalf("unexpected optional fields: %+v", event)
	}
	if !event.Timestamp.Equal(time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %s", event.Timestamp)
	}

	alert, err := DecodeAlertPayload(event.Alert)
	if err != nil {
		t.Fatalf("decode alert payload: %v", err)
	}
	if alert.ID != 42 || alert.Kind != "caida" {
		t.Fatalf("unexpected alert: %+v", alert)
	}
}

func TestDecodeFrameOptionalFieldsAbsent(t *testing.T) {
	t.Parallel()

	event, err := DecodeFrame([]byte(`{"tipo":"pong","timestamp":"2026-02-24T12:00:00Z"}`))
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if event.Kind != EventPong || event.Message != "" || event.Alert != nil {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestDecodeFrameRejectsMalformed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"bare text":         `pong`,
		"broken json":       `{"tipo":`,
		"missing tipo":      `{"timestamp":"2026-02-24T12:00:00Z"}`,
		"unknown tipo":      `{"tipo":"otro","timestamp":"2026-02-24T12:00:00Z"}`,
		"bad timestamp":     `{"tipo":"pong","timestamp":"yesterday"}`,
		"alert without obj": `{"tipo":"nueva_alerta","timestamp":"2026-02-24T12:00:00Z"}`,
		"array":             `[{"tipo":"pong"}]`,
	}
	for name, raw := range cases {
		if _, err := DecodeFrame([]byte(raw)); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("%s: expected ErrMalformedFrame, got %v", name, err)
		}
	}
}

func TestNewAlertNotificationData(t *testing.T) {
	t.Parallel()

	notification := NewAlertNotification(Alert{ID: 7})
	if notification.Data["tipo"] != NotificationKindNewAlert {
		t.Fatalf("unexpected tipo: %v", notification.Data["tipo"])
	}
	if notification.Data["alertId"] != int64(7) {
		t.Fatalf("unexpected alertId: %v", notification.Data["alertId"])
	}
	if notification.Body != "Alerta #7" {
		t.Fatalf("unexpected body %q", notification.Body)
	}
}
