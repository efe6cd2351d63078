package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/metrics"
	"github.com/berfenger/heatpump2mqtt/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBridge answers like a running master with one curve and one accumulator.
func fakeBridge(t *testing.T, healthy bool, reconnectErr error) (*actor.ActorSystem, *actor.PID) {
	as := actor.NewActorSystem()
	t.Cleanup(as.Shutdown)

	curve := domain.CurveConfig{
		Prefix:                domain.CURVE_HEATING,
		Name:                  "Heating",
		TargetRegister:        "heating_setpoint",
		PVOptimizationEnabled: true,
		PVGridOffset:          3,
		BaseSetpoint:          35,
	}
	base, written, pending := 35.0, 38.0, 2.0
	curvePID := as.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		if _, ok := ctx.Message().(domain.GetCurveStateRequest); ok {
			ctx.Respond(domain.GetCurveStateResponse{
				Config:       curve,
				State:        domain.CurveRuntimeState{CurrentOffset: 3, LastChangeAt: time.Unix(1700000000, 0)},
				BaseSetpoint: &base,
				Commanded:    &written,
				LastWritten:  &written,
				External:     domain.ExternalOffsetState{Pending: &pending, Since: time.Unix(1700000000, 0)},
			})
		}
	}))
	copPID := as.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		if _, ok := ctx.Message().(domain.GetCOPRequest); ok {
			ctx.Respond(domain.GetCOPResponse{
				Name: "heatpump",
				Buckets: []domain.EnergyBucket{
					{Period: domain.PeriodToday, HeatEnergy: 10, ElectricalEnergy: 4},
					{Period: domain.PeriodYesterday},
				},
			})
		}
	}))
	master := as.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case domain.ActorHealthRequest:
			ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: healthy})
		case domain.GetBridgeComponentsRequest:
			ctx.Respond(domain.GetBridgeComponentsResponse{
				Curves: map[string]*domain.ActorRef{domain.CURVE_HEATING: (*domain.ActorRef)(curvePID)},
				COPs:   map[string]*domain.ActorRef{"heatpump": (*domain.ActorRef)(copPID)},
			})
		case domain.CurveSetParameterRequest:
			updated, err := curve.ApplyParameter(msg.Param, msg.Value)
			ctx.Respond(domain.CurveConfigUpdateResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
				Config:             updated,
			})
		case domain.CurveSetExternalOffsetRequest:
			updated := curve
			updated.ExternalOffsetEnabled = msg.Enable
			ctx.Respond(domain.CurveConfigUpdateResponse{Config: updated})
		case domain.ModbusReconnectRequest:
			ctx.Respond(domain.ModbusReconnectResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: reconnectErr},
			})
		case domain.CurveSetPVOptimizationRequest:
			ctx.Respond(domain.CurveConfigUpdateResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: fmt.Errorf("%w: curve %s is not active", domain.ErrConfiguration, msg.Prefix),
				},
			})
		}
	}))
	return as, master
}

func testHandler(t *testing.T, healthy bool) http.Handler {
	return testHandlerWith(t, healthy, nil)
}

func testHandlerWith(t *testing.T, healthy bool, reconnectErr error) http.Handler {
	as, master := fakeBridge(t, healthy, reconnectErr)
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.CurveEvaluated(domain.CURVE_HEATING, 3, 38)
	return newServer(util.LoadTestConfig(), as.Root, master, reg).RegisterRoutes()
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	rec := serve(testHandler(t, true), http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "health_check: OK"))

	rec = serve(testHandler(t, false), http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCOPEndpoint(t *testing.T) {
	rec := serve(testHandler(t, true), http.MethodGet, "/api/cop", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []copView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "heatpump", views[0].Name)
	require.Len(t, views[0].Periods, 2)
	require.NotNil(t, views[0].Periods[0].COP)
	assert.InDelta(t, 2.5, *views[0].Periods[0].COP, 1e-9)
	assert.Nil(t, views[0].Periods[1].COP, "absent without consumption")
}

func TestCurvesEndpoint(t *testing.T) {
	rec := serve(testHandler(t, true), http.MethodGet, "/api/curves", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []curveView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, domain.CURVE_HEATING, views[0].Prefix)
	assert.Equal(t, 3.0, views[0].CurrentOffset)
	require.NotNil(t, views[0].LastWritten)
	assert.Equal(t, 38.0, *views[0].LastWritten)
	assert.Equal(t, 3.0, views[0].Params[domain.CURVE_PARAM_PV_GRID_OFFSET])
	assert.False(t, views[0].External.Enabled)
	require.NotNil(t, views[0].External.Pending)
	assert.Equal(t, 2.0, *views[0].External.Pending)
	assert.NotNil(t, views[0].External.Since)
}

func TestCurveCommands(t *testing.T) {
	h := testHandler(t, true)

	rec := serve(h, http.MethodPut, "/api/curves/heating/params/"+domain.CURVE_PARAM_BASE_SETPOINT, `{"value": 40}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var view curveView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 40.0, view.Params[domain.CURVE_PARAM_BASE_SETPOINT])

	rec = serve(h, http.MethodPut, "/api/curves/heating/params/"+domain.CURVE_PARAM_PV_GRID_OFFSET, `{"value": 25}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, http.MethodPut, "/api/curves/cooling/pv_optimization", `{"enable": true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, http.MethodPut, "/api/curves/heating/external_offset", `{"enable": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.External.Enabled)
}

func TestModbusReconnect(t *testing.T) {
	rec := serve(testHandler(t, true), http.MethodPost, "/api/modbus/reconnect", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(testHandlerWith(t, true, domain.ErrTransportTimeout), http.MethodPost, "/api/modbus/reconnect", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(testHandler(t, true), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "curve")
}
