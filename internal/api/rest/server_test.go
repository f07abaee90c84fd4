package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSoftPLC/internal/auth"
	"github.com/KevinKickass/OpenSoftPLC/internal/clock"
	"github.com/KevinKickass/OpenSoftPLC/internal/config"
	"github.com/KevinKickass/OpenSoftPLC/internal/events"
	"github.com/KevinKickass/OpenSoftPLC/internal/interfaces"
	"github.com/KevinKickass/OpenSoftPLC/internal/iosync"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/engine"
	"github.com/KevinKickass/OpenSoftPLC/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "0123456789abcdef0123456789abcdef"

const pumpProgram = `{
  "memory": {"start": {"type": "bool"}, "idle": {"type": "bool"}, "speed": {"type": "int"}},
  "logic": [
    {"block_type": "NOT", "inputs": {"in": "start"}, "outputs": {"out": "idle"}}
  ]
}`

type fakeLifecycle struct {
	cfg      *config.Config
	engine   *engine.Engine
	registry *registry.Registry
	events   *events.Manager
	state    string
	shutdown chan struct{}
}

func (f *fakeLifecycle) Config() *config.Config       { return f.cfg }
func (f *fakeLifecycle) Engine() *engine.Engine       { return f.engine }
func (f *fakeLifecycle) Registry() *registry.Registry { return f.registry }
func (f *fakeLifecycle) Events() *events.Manager      { return f.events }

func (f *fakeLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{State: f.state, Engine: f.engine.Stats()}
}

func (f *fakeLifecycle) Shutdown(ctx context.Context) error {
	close(f.shutdown)
	return nil
}

type fixture struct {
	lm     *fakeLifecycle
	server *Server
	jwt    *auth.JWTHandler
}

func newFixture(t *testing.T, authEnabled bool) *fixture {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)

	clk := clock.NewManual()
	reg := registry.New(clk, zap.NewNop())
	eng, err := engine.New(engine.Options{
		Clock:        clk,
		Status:       reg,
		Registry:     reg,
		Syncer:       iosync.NewSyncer(reg, zap.NewNop()),
		Logger:       zap.NewNop(),
		ScanInterval: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	mgr := events.NewManager(events.Options{Runner: eng, Endpoints: reg, Clock: clk, Logger: zap.NewNop()})

	lm := &fakeLifecycle{
		cfg:      cfg,
		engine:   eng,
		registry: reg,
		events:   mgr,
		state:    "RUNNING",
		shutdown: make(chan struct{}),
	}

	jwt := auth.NewJWTHandler(testSecret, time.Hour)
	server := NewServer(cfg, lm, zap.NewNop(), nil, auth.NewAuthenticator(jwt, authEnabled, zap.NewNop()))
	return &fixture{lm: lm, server: server, jwt: jwt}
}

func (f *fixture) do(t *testing.T, method, path, body string, token ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if len(token) > 0 {
		req.Header.Set("Authorization", "Bearer "+token[0])
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, w)
	return body["error"].(map[string]interface{})["code"].(string)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RUNNING", decode(t, w)["status"])

	f.lm.state = "STOPPING"
	w = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestProgramLifecycle(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodPost, "/api/v1/programs/pump", pumpProgram)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "STOPPED", decode(t, w)["state"])

	w = f.do(t, http.MethodPost, "/api/v1/programs/pump", pumpProgram)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PROGRAM_409", errorCode(t, w))

	w = f.do(t, http.MethodGet, "/api/v1/programs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = f.do(t, http.MethodPost, "/api/v1/programs/pump/run", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RUNNING", decode(t, w)["state"])

	w = f.do(t, http.MethodPut, "/api/v1/programs/pump", pumpProgram)
	assert.Equal(t, http.StatusConflict, w.Code, "reload needs a stopped program")

	w = f.do(t, http.MethodPost, "/api/v1/programs/pump/pause", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PAUSED", decode(t, w)["state"])

	w = f.do(t, http.MethodPost, "/api/v1/programs/pump/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "STOPPED", decode(t, w)["state"])

	w = f.do(t, http.MethodDelete, "/api/v1/programs/pump", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/programs/pump", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PROGRAM_404", errorCode(t, w))
}

func TestLoadInvalidProgram(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodPost, "/api/v1/programs/broken", `{"memory": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "PROGRAM_400", errorCode(t, w))
}

func TestForceVariable(t *testing.T) {
	f := newFixture(t, false)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/programs/pump", pumpProgram).Code)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"false widens", `{"value": false}`, http.StatusOK},
		{"int literal", `{"value": 1200}`, http.StatusOK},
		{"missing value", `{}`, http.StatusBadRequest},
		{"string for int", `{"value": "fast"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPut, "/api/v1/programs/pump/variables/speed", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	w := f.do(t, http.MethodPut, "/api/v1/programs/pump/variables/start", `{"value": false}`)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/v1/programs/pump/variables", "")
	require.Equal(t, http.StatusOK, w.Code)
	vars := decode(t, w)["variables"].([]interface{})
	found := false
	for _, v := range vars {
		entry := v.(map[string]interface{})
		if entry["name"] == "speed" {
			assert.Equal(t, float64(1200), entry["value"])
			found = true
		}
	}
	assert.True(t, found)

	w = f.do(t, http.MethodPut, "/api/v1/programs/pump/variables/ghost", `{"value": 1}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEndpointWrite(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.lm.registry.RegisterEndpoint(registry.Endpoint{FullName: "plant.modbus.pump.speed.int", Writable: true, Online: true}))
	require.NoError(t, f.lm.registry.RegisterEndpoint(registry.Endpoint{FullName: "plant.modbus.pump.mode.int", Writable: true}))
	require.NoError(t, f.lm.registry.RegisterEndpoint(registry.Endpoint{FullName: "plant.modbus.tank.level.real"}))

	w := f.do(t, http.MethodPut, "/api/v1/registry/endpoints/plant.modbus.pump.speed.int/value", `{"value": 900}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(900), decode(t, w)["current_value"])

	w = f.do(t, http.MethodPut, "/api/v1/registry/endpoints/plant.modbus.tank.level.real/value", `{"value": 1.5}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPut, "/api/v1/registry/endpoints/plant.modbus.pump.mode.int/value", `{"value": 2}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(t, http.MethodPut, "/api/v1/registry/endpoints/plant.modbus.none.x.int/value", `{"value": 1}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/registry/endpoints?location=plant", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["count"])
}

func TestRegisterEndpoint(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodPost, "/api/v1/registry/endpoints", `{"full_name": "hall.zigbee.door.contact.bool"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "bool", decode(t, w)["datatype"])

	w = f.do(t, http.MethodPost, "/api/v1/registry/endpoints", `{"full_name": "bad-name"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodDelete, "/api/v1/registry/endpoints/hall.zigbee.door.contact.bool", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTriggers(t *testing.T) {
	f := newFixture(t, false)

	body := `{"name": "door", "type": "input_changed", "endpoint": "hall.zigbee.door.contact.bool", "program": "pump"}`
	w := f.do(t, http.MethodPost, "/api/v1/events/triggers/io", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["enabled"])

	w = f.do(t, http.MethodPost, "/api/v1/events/triggers/io", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPatch, "/api/v1/events/triggers/io/door", `{"enabled": false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["enabled"])

	w = f.do(t, http.MethodPost, "/api/v1/events/triggers/io", `{"name": "bad", "type": "sometimes", "endpoint": "x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/events/triggers/scheduled", `{"name": "nightly", "program": "pump", "hour": 2, "minute": 30}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/v1/events/triggers/scheduled", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = f.do(t, http.MethodDelete, "/api/v1/events/triggers/io/door", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodDelete, "/api/v1/events/triggers/io/door", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventHistory(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.lm.events.Start())
	t.Cleanup(f.lm.events.Stop)

	f.lm.events.RecordIncident("pump", events.KindProgramError, "sensor fault")
	require.Eventually(t, func() bool { return f.lm.events.Stats().Total == 1 }, 2*time.Second, 5*time.Millisecond)

	w := f.do(t, http.MethodGet, "/api/v1/events?unread=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = f.do(t, http.MethodPost, "/api/v1/events/read", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["marked"])

	w = f.do(t, http.MethodGet, "/api/v1/events/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w), "stats")

	w = f.do(t, http.MethodDelete, "/api/v1/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.lm.events.History(false))
}

func TestBlockCatalog(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodGet, "/api/v1/blocks", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Greater(t, decode(t, w)["count"].(float64), float64(20))
}

func TestPermissions(t *testing.T) {
	f := newFixture(t, true)

	operator, err := f.jwt.GenerateAccessToken("hmi", auth.RoleOperator)
	require.NoError(t, err)
	technician, err := f.jwt.GenerateAccessToken("laptop", auth.RoleTechnician)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/v1/programs", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/programs", "", operator)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/programs/pump", pumpProgram, operator)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "AUTH_403", errorCode(t, w))

	w = f.do(t, http.MethodPost, "/api/v1/programs/pump", pumpProgram, technician)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/programs/pump/run", "", operator)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodDelete, "/api/v1/events", "", technician)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestShutdown(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodPost, "/api/v1/system/shutdown", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-f.lm.shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown not called")
	}
}
