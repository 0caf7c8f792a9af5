package e2e

import (
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"carealert/test/testutil"

	"github.com/gorilla/websocket"
)

func TestServicePushNotifyAndRespond(t *testing.T) {
	if testing.Short() {
		t.Skip("e2e")
	}
	ws := testutil.StartWSServer(t)
	stub := startBackendStub(t)
	port := freePort(t)
	storage := `[storage]
backend = "badger"

[storage.badger]
path = "` + filepath.Join(t.TempDir(), "badger") + `"`

	service := newServiceFromConfig(t, writeConfig(t, serviceConfig(ws.URL, stub, port, "ExponentPushToken[e2e]", storage)))
	cancel, done := runService(t, service)
	defer cancel()

	server := ws.NextConn(t, stepTimeout)
	waitReady(t, port)
	if got := ws.Tokens(); len(got) != 1 || got[0] != "e2e-token" {
		t.Fatalf("handshake tokens %v", got)
	}

	// first alert only records the baseline
	for _, frame := range [][]byte{alertFrame(10, "Baseline"), alertFrame(11, "Caida detectada"), alertFrame(11, "Caida detectada")} {
		if err := server.WriteMessage(websocket.TextMessage, frame); err != nil {
			t.Fatalf("push frame: %v", err)
		}
	}
	waitFor(t, stepTimeout, func() bool { return len(stub.Messages()) == 1 })
	if msg := stub.Messages()[0]; !strings.Contains(msg, "<b>Alerta 11</b>") || !strings.Contains(msg, "Caida detectada") {
		t.Fatalf("unexpected telegram text %q", msg)
	}

	status, body := controlCall(t, http.MethodPost, port, "/alerts/11/respond")
	if status != http.StatusOK || body["locked"] != true {
		t.Fatalf("respond: %d %v", status, body)
	}
	status, _ = controlCall(t, http.MethodPost, port, "/alerts/11/respond")
	if status != http.StatusConflict {
		t.Fatalf("second respond must be locked, got %d", status)
	}
	if got := stub.Confirmed(); len(got) != 1 || got[0] != "11" {
		t.Fatalf("backend confirmations %v", got)
	}
	status, body = controlCall(t, http.MethodGet, port, "/alerts/11/lock")
	if status != http.StatusOK || body["locked"] != true {
		t.Fatalf("lock status: %d %v", status, body)
	}

	cancel()
	waitServiceStop(t, done)
	if len(stub.Messages()) != 1 {
		t.Fatalf("duplicate push must not notify again: %v", stub.Messages())
	}
}

func TestServiceFallbackPolling(t *testing.T) {
	if testing.Short() {
		t.Skip("e2e")
	}
	ws := testutil.StartWSServer(t)
	stub := startBackendStub(t)
	stub.setAlerts(`[{"id":30,"leido":false,"mensaje":"Sin movimiento"}]`)
	port := freePort(t)

	service := newServiceFromConfig(t, writeConfig(t, serviceConfig(ws.URL, stub, port, "SIMULATED-emulator", `[storage]
backend = "memory"`)))
	cancel, done := runService(t, service)
	defer cancel()
	waitReady(t, port)

	status, body := controlCall(t, http.MethodPost, port, "/alerts/check")
	if status != http.StatusOK {
		t.Fatalf("check: %d %v", status, body)
	}
	stub.setAlerts(`[{"id":31,"leido":false,"mensaje":"Boton de panico"},{"id":30,"leido":false}]`)
	waitFor(t, stepTimeout, func() bool { return len(stub.Messages()) == 1 })
	if msg := stub.Messages()[0]; !strings.Contains(msg, "Boton de panico") {
		t.Fatalf("unexpected telegram text %q", msg)
	}

	cancel()
	waitServiceStop(t, done)
}
