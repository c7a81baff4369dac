package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/carts/internal/model"
	"github.com/alfredjeanlab/carts/internal/pipeline"
	"github.com/alfredjeanlab/carts/internal/presence"
	"github.com/alfredjeanlab/carts/internal/registry"
	"github.com/alfredjeanlab/carts/internal/store"
	"github.com/alfredjeanlab/carts/internal/store/memory"
)

// newTestServer returns a CartsServer over an in-memory store.
func newTestServer(t *testing.T) (*CartsServer, *memory.Store, *registry.Registry) {
	t.Helper()
	ms := memory.New()
	srv, reg := newTestServerWithStore(t, ms)
	return srv, ms, reg
}

func newTestServerWithStore(t *testing.T, s store.Store) (*CartsServer, *registry.Registry) {
	t.Helper()
	reg := registry.New(time.Second, nil)
	t.Cleanup(reg.Close)
	p := pipeline.New(s, reg, nil, nil)
	return NewCartsServer(p, s, reg, time.Second), reg
}

// doRequest sends a request through the server's full handler chain.
func doRequest(t *testing.T, srv *CartsServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.NewHTTPHandler([]string{"*"}).ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

// failingStore fails the selected writes and delegates everything else.
type failingStore struct {
	store.Store
	insertEventErr    error
	insertSequenceErr error
	txErr             error
	readErr           error
}

func (s *failingStore) InsertSequence(ctx context.Context, seq *model.Sequence) error {
	if s.insertSequenceErr != nil {
		return s.insertSequenceErr
	}
	return s.Store.InsertSequence(ctx, seq)
}

func (s *failingStore) InsertEvent(ctx context.Context, ev *model.Event) error {
	if s.insertEventErr != nil {
		return s.insertEventErr
	}
	return s.Store.InsertEvent(ctx, ev)
}

func (s *failingStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	if s.txErr != nil {
		return s.txErr
	}
	return s.Store.RunInTransaction(ctx, fn)
}

func (s *failingStore) LatestEvents(ctx context.Context, deviceID int64, n int) ([]*model.Event, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.Store.LatestEvents(ctx, deviceID, n)
}

func (s *failingStore) LatestEvent(ctx context.Context, deviceID int64) (*model.Event, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.Store.LatestEvent(ctx, deviceID)
}

func TestHandleMove(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, "POST", "/api/move", `{"id_dispositivo":1,"id_cliente":7,"id_operacion":1}`)
	requireStatus(t, rec, http.StatusOK)

	ev := decodeBody[model.Event](t, rec)
	if ev.ID != 1 || ev.DeviceID != 1 || ev.ClientID != 7 || ev.Operation != 1 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.OperationText == nil || *ev.OperationText != "Adelante" {
		t.Fatalf("expected operacion_texto=Adelante, got %v", ev.OperationText)
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("expected fecha_hora to be set")
	}
}

func TestHandleMove_BadRequest(t *testing.T) {
	srv, ms, _ := newTestServer(t)

	for _, tc := range []struct {
		name, body, field string
	}{
		{"MissingClient", `{"id_dispositivo":1,"id_operacion":1}`, "id_cliente"},
		{"MissingOperation", `{"id_dispositivo":1,"id_cliente":1}`, "id_operacion"},
		{"NegativeOperation", `{"id_dispositivo":1,"id_cliente":1,"id_operacion":-1}`, "id_operacion"},
		{"StringDevice", `{"id_dispositivo":"uno","id_cliente":1,"id_operacion":1}`, "invalid JSON"},
		{"Malformed", `{"id_dispositivo":`, "invalid JSON"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, srv, "POST", "/api/move", tc.body)
			requireStatus(t, rec, http.StatusBadRequest)
			resp := decodeBody[map[string]string](t, rec)
			if !strings.Contains(resp["error"], tc.field) {
				t.Fatalf("expected error mentioning %q, got %q", tc.field, resp["error"])
			}
		})
	}

	evs, _ := ms.LatestEvents(context.Background(), 1, 10)
	if len(evs) != 0 {
		t.Fatalf("expected no events after rejected commands, got %d", len(evs))
	}
}

func TestHandleMove_PersistFailure(t *testing.T) {
	fs := &failingStore{Store: memory.New(), insertEventErr: errors.New("connection refused")}
	srv, _ := newTestServerWithStore(t, fs)

	rec := doRequest(t, srv, "POST", "/api/move", `{"id_dispositivo":1,"id_cliente":1,"id_operacion":1}`)
	requireStatus(t, rec, http.StatusInternalServerError)
	resp := decodeBody[map[string]string](t, rec)
	if !strings.Contains(resp["error"], "connection refused") {
		t.Fatalf("expected persistence error, got %q", resp["error"])
	}
}

func TestHandleObstacle(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, "POST", "/api/obstaculo", `{"id_dispositivo":2,"id_cliente":1,"id_obstaculo":1}`)
	requireStatus(t, rec, http.StatusOK)

	resp := decodeBody[struct {
		OK    bool        `json:"ok"`
		Event model.Event `json:"evento"`
	}](t, rec)
	if !resp.OK {
		t.Fatal("expected ok=true")
	}
	if resp.Event.Operation != model.OperationStop {
		t.Fatalf("expected id_operacion=%d, got %d", model.OperationStop, resp.Event.Operation)
	}
	if resp.Event.ObstacleText == nil || *resp.Event.ObstacleText != "Obstáculo al frente" {
		t.Fatalf("unexpected obstaculo_texto: %v", resp.Event.ObstacleText)
	}
}

func TestHandleObstacle_WithoutObstacle(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, "POST", "/api/obstaculo", `{"id_dispositivo":2,"id_cliente":1}`)
	requireStatus(t, rec, http.StatusOK)
	resp := decodeBody[struct {
		Event model.Event `json:"evento"`
	}](t, rec)
	if resp.Event.Obstacle != nil {
		t.Fatalf("expected null id_obstaculo, got %d", *resp.Event.Obstacle)
	}
}

func TestHandleSpeed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, "POST", "/api/speed", `{"id_dispositivo":1,"id_cliente":1,"id_velocidad":2}`)
	requireStatus(t, rec, http.StatusOK)
	ev := decodeBody[model.Event](t, rec)
	if ev.Operation != model.SpeedBaseOperation {
		t.Fatalf("expected id_operacion=%d, got %d", model.SpeedBaseOperation, ev.Operation)
	}
	if ev.SpeedText == nil || *ev.SpeedText != "Media" {
		t.Fatalf("expected velocidad_texto=Media, got %v", ev.SpeedText)
	}

	rec = doRequest(t, srv, "POST", "/api/speed", `{"id_dispositivo":1,"id_cliente":1,"id_velocidad":0}`)
	requireStatus(t, rec, http.StatusBadRequest)
}

func TestHandleSequence(t *testing.T) {
	srv, ms, _ := newTestServer(t)

	rec := doRequest(t, srv, "POST", "/api/sequence",
		`{"nombre":"patrulla","movimientos":[1,4,1,3],"id_dispositivo":5,"id_cliente":2}`)
	requireStatus(t, rec, http.StatusOK)

	resp := decodeBody[map[string]any](t, rec)
	if resp["ok"] != true {
		t.Fatalf("expected ok=true, got %v", resp["ok"])
	}
	if resp["id_secuencia"] != float64(1) {
		t.Fatalf("expected id_secuencia=1, got %v", resp["id_secuencia"])
	}
	if resp["total_movimientos"] != float64(4) {
		t.Fatalf("expected total_movimientos=4, got %v", resp["total_movimientos"])
	}
	want := "Secuencia 'patrulla' (ID 1) enviada al carrito con 4 movimientos"
	if resp["mensaje"] != want {
		t.Fatalf("expected mensaje=%q, got %v", want, resp["mensaje"])
	}

	evs, _ := ms.LatestEvents(context.Background(), 5, 10)
	if len(evs) != 4 {
		t.Fatalf("expected 4 step events, got %d", len(evs))
	}
}

func TestHandleSequence_EmptySteps(t *testing.T) {
	srv, ms, _ := newTestServer(t)

	rec := doRequest(t, srv, "POST", "/api/sequence",
		`{"nombre":"vacía","movimientos":[],"id_dispositivo":5,"id_cliente":2}`)
	requireStatus(t, rec, http.StatusBadRequest)
	if got := len(ms.Sequences()); got != 0 {
		t.Fatalf("expected no stored sequences, got %d", got)
	}
}

func TestHandleSequence_StepFailureKeepsID(t *testing.T) {
	fs := &failingStore{Store: memory.New(), txErr: errors.New("disk full")}
	srv, _ := newTestServerWithStore(t, fs)

	rec := doRequest(t, srv, "POST", "/api/sequence",
		`{"nombre":"patrulla","movimientos":[1,2],"id_dispositivo":5,"id_cliente":2}`)
	requireStatus(t, rec, http.StatusInternalServerError)
	resp := decodeBody[map[string]any](t, rec)
	if resp["id_secuencia"] != float64(1) {
		t.Fatalf("expected id_secuencia=1 in error body, got %v", resp["id_secuencia"])
	}
	if msg, _ := resp["error"].(string); !strings.Contains(msg, "disk full") {
		t.Fatalf("expected error mentioning cause, got %v", resp["error"])
	}
}

func TestHandleLatestEvents(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, body := range []string{
		`{"id_dispositivo":1,"id_cliente":1,"id_operacion":1}`,
		`{"id_dispositivo":1,"id_cliente":1,"id_operacion":2}`,
		`{"id_dispositivo":2,"id_cliente":1,"id_operacion":4}`,
		`{"id_dispositivo":1,"id_cliente":1,"id_operacion":5}`,
	} {
		requireStatus(t, doRequest(t, srv, "POST", "/api/move", body), http.StatusOK)
	}

	rec := doRequest(t, srv, "GET", "/api/events/1?n=2", "")
	requireStatus(t, rec, http.StatusOK)
	evs := decodeBody[[]model.Event](t, rec)
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Operation != 5 || evs[1].Operation != 2 {
		t.Fatalf("expected newest first (5, 2), got (%d, %d)", evs[0].Operation, evs[1].Operation)
	}

	rec = doRequest(t, srv, "GET", "/api/events/1", "")
	requireStatus(t, rec, http.StatusOK)
	if evs := decodeBody[[]model.Event](t, rec); len(evs) != 3 {
		t.Fatalf("expected 3 events with default n, got %d", len(evs))
	}

	rec = doRequest(t, srv, "GET", "/api/events/99", "")
	requireStatus(t, rec, http.StatusOK)
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("expected empty array for unknown device, got %s", body)
	}
}

func TestHandleLatestEvents_BadRequest(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, path := range []string{
		"/api/events/abc",
		"/api/events/-1",
		"/api/events/1?n=0",
		"/api/events/1?n=-3",
		"/api/events/1?n=diez",
	} {
		t.Run(path, func(t *testing.T) {
			requireStatus(t, doRequest(t, srv, "GET", path, ""), http.StatusBadRequest)
		})
	}
}

func TestHandleLatestEvents_ReadFailure(t *testing.T) {
	fs := &failingStore{Store: memory.New(), readErr: errors.New("timeout")}
	srv, _ := newTestServerWithStore(t, fs)

	requireStatus(t, doRequest(t, srv, "GET", "/api/events/1", ""), http.StatusInternalServerError)
	requireStatus(t, doRequest(t, srv, "GET", "/api/last/1", ""), http.StatusInternalServerError)
}

func TestHandleLastEvent(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, "GET", "/api/last/3", "")
	requireStatus(t, rec, http.StatusOK)
	if body := strings.TrimSpace(rec.Body.String()); body != "{}" {
		t.Fatalf("expected {} for device without events, got %s", body)
	}

	requireStatus(t, doRequest(t, srv, "POST", "/api/move", `{"id_dispositivo":3,"id_cliente":1,"id_operacion":1}`), http.StatusOK)
	requireStatus(t, doRequest(t, srv, "POST", "/api/speed", `{"id_dispositivo":3,"id_cliente":1,"id_velocidad":3}`), http.StatusOK)

	rec = doRequest(t, srv, "GET", "/api/last/3", "")
	requireStatus(t, rec, http.StatusOK)
	ev := decodeBody[model.Event](t, rec)
	if ev.ID != 2 || ev.Speed == nil || *ev.Speed != 3 {
		t.Fatalf("expected the speed event as latest, got %+v", ev)
	}
}

type downStore struct {
	*memory.Store
}

func (downStore) Ping(context.Context) error { return errors.New("no route to host") }

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, "GET", "/health", "")
	requireStatus(t, rec, http.StatusOK)
	resp := decodeBody[map[string]any](t, rec)
	if resp["ok"] != true || resp["observers"] != float64(0) {
		t.Fatalf("unexpected health body: %v", resp)
	}

	down, _ := newTestServerWithStore(t, downStore{memory.New()})
	requireStatus(t, doRequest(t, down, "GET", "/health", ""), http.StatusServiceUnavailable)
}

func TestHTTPHandler_CORSPreflight(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest("OPTIONS", "/api/move", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	srv.NewHTTPHandler([]string{"*"}).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected Access-Control-Allow-Origin=*, got %q", got)
	}
}

func TestHTTPHandler_Metrics(t *testing.T) {
	srv, _, _ := newTestServer(t)
	requireStatus(t, doRequest(t, srv, "POST", "/api/move", `{"id_dispositivo":1,"id_cliente":1,"id_operacion":1}`), http.StatusOK)

	rec := doRequest(t, srv, "GET", "/metrics", "")
	requireStatus(t, rec, http.StatusOK)
	body := rec.Body.String()
	for _, want := range []string{"carts_registry_observers", "carts_pipeline_commands_total", `route="POST /api/move"`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}

func TestHTTPHandler_MethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	requireStatus(t, doRequest(t, srv, "GET", "/api/move", ""), http.StatusMethodNotAllowed)
}

// trackPresence attaches a device roster to srv and its pipeline.
func trackPresence(srv *CartsServer) *presence.Tracker {
	tracker := presence.New()
	srv.pipeline.TrackActivity(tracker)
	srv.Presence = tracker
	return tracker
}

func TestHandleDevices(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/devices", "")
	requireStatus(t, rec, http.StatusOK)
	if got := decodeBody[map[string][]presence.Entry](t, rec)["dispositivos"]; got == nil || len(got) != 0 {
		t.Fatalf("expected empty roster without a tracker, got %v", got)
	}

	trackPresence(srv)
	requireStatus(t, doRequest(t, srv, http.MethodPost, "/api/move", `{"id_dispositivo": 3, "id_cliente": 8, "id_operacion": 1}`), http.StatusOK)
	requireStatus(t, doRequest(t, srv, http.MethodPost, "/api/obstaculo", `{"id_dispositivo": 3, "id_cliente": 8}`), http.StatusOK)
	// Rejected commands do not count.
	requireStatus(t, doRequest(t, srv, http.MethodPost, "/api/speed", `{"id_dispositivo": 4, "id_cliente": 8, "id_velocidad": 0}`), http.StatusBadRequest)

	rec = doRequest(t, srv, http.MethodGet, "/api/devices?idle_secs=60", "")
	requireStatus(t, rec, http.StatusOK)
	devs := decodeBody[map[string][]presence.Entry](t, rec)["dispositivos"]
	if len(devs) != 1 {
		t.Fatalf("expected one device, got %+v", devs)
	}
	if devs[0].DeviceID != 3 || devs[0].ClientID != 8 || devs[0].CommandCount != 2 || devs[0].LastCommand != "obstacle" {
		t.Errorf("unexpected entry %+v", devs[0])
	}
}

func TestHandleDevices_BadRequests(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, q := range []string{"idle_secs=soon", "idle_secs=-5"} {
		rec := doRequest(t, srv, http.MethodGet, "/api/devices?"+q, "")
		requireStatus(t, rec, http.StatusBadRequest)
	}
}
