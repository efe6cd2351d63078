package server

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/metrics", echo.WrapHandler(s.metrics))

	api := e.Group("/api")
	api.GET("/cop", s.COPHandler)
	api.GET("/curves", s.CurvesHandler)
	api.PUT("/curves/:prefix/pv_optimization", s.CurvePVOptimizationHandler)
	api.PUT("/curves/:prefix/external_offset", s.CurveExternalOffsetHandler)
	api.PUT("/curves/:prefix/params/:param", s.CurveParameterHandler)
	api.POST("/modbus/reconnect", s.ModbusReconnectHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, fmt.Sprintf("health_check: OK (%s)", versioninfo.Short()))
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

type periodView struct {
	Period           domain.Period `json:"period"`
	HeatEnergy       float64       `json:"heat_kwh"`
	ElectricalEnergy float64       `json:"electrical_kwh"`
	COP              *float64      `json:"cop"`
	WindowStart      time.Time     `json:"window_start"`
	WindowEnd        time.Time     `json:"window_end"`
}

type copView struct {
	Name    string       `json:"name"`
	Periods []periodView `json:"periods"`
}

func (s *Server) COPHandler(c echo.Context) error {
	components, err := s.components()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	views := []copView{}
	for _, name := range slices.Sorted(maps.Keys(components.COPs)) {
		res, err := s.rootContext.RequestFuture((*actor.PID)(components.COPs[name]), domain.GetCOPRequest{}, s.queryTimeout).Result()
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, fmt.Sprintf("cop %s: %s", name, err))
		}
		resp := res.(domain.GetCOPResponse)
		view := copView{Name: resp.Name}
		for _, b := range resp.Buckets {
			p := periodView{
				Period:           b.Period,
				HeatEnergy:       b.HeatEnergy,
				ElectricalEnergy: b.ElectricalEnergy,
				WindowStart:      b.WindowStart,
				WindowEnd:        b.WindowEnd,
			}
			if cop, ok := b.COP(); ok {
				p.COP = &cop
			}
			view.Periods = append(view.Periods, p)
		}
		views = append(views, view)
	}
	return c.JSON(http.StatusOK, views)
}

type curveView struct {
	Prefix         string     `json:"prefix"`
	Name           string     `json:"name"`
	TargetRegister string     `json:"target_register"`
	PVOptimization bool       `json:"pv_optimization"`
	CurrentOffset  float64    `json:"current_offset"`
	LastChangeAt   *time.Time `json:"last_change_at,omitempty"`
	BaseSetpoint   *float64   `json:"base_setpoint"`
	Commanded      *float64   `json:"commanded"`
	LastWritten    *float64   `json:"last_written"`

	External externalView       `json:"external_offset"`
	Params   map[string]float64 `json:"params"`
}

type externalView struct {
	Enabled bool       `json:"enabled"`
	Active  float64    `json:"active"`
	Pending *float64   `json:"pending"`
	Since   *time.Time `json:"pending_since,omitempty"`
}

func toCurveView(resp domain.GetCurveStateResponse) curveView {
	view := curveView{
		Prefix:         resp.Config.Prefix,
		Name:           resp.Config.Name,
		TargetRegister: resp.Config.TargetRegister,
		PVOptimization: resp.Config.PVOptimizationEnabled,
		CurrentOffset:  resp.State.CurrentOffset,
		BaseSetpoint:   resp.BaseSetpoint,
		Commanded:      resp.Commanded,
		LastWritten:    resp.LastWritten,
		Params:         map[string]float64{},
	}
	view.External = externalView{
		Enabled: resp.Config.ExternalOffsetEnabled,
		Active:  resp.External.Active,
		Pending: resp.External.Pending,
	}
	if resp.External.Pending != nil && !resp.External.Since.IsZero() {
		since := resp.External.Since
		view.External.Since = &since
	}
	if !resp.State.LastChangeAt.IsZero() {
		at := resp.State.LastChangeAt
		view.LastChangeAt = &at
	}
	for _, param := range domain.CurveParams {
		view.Params[param] = resp.Config.ParameterValue(param)
	}
	return view
}

func (s *Server) CurvesHandler(c echo.Context) error {
	components, err := s.components()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	views := []curveView{}
	for _, prefix := range slices.Sorted(maps.Keys(components.Curves)) {
		res, err := s.rootContext.RequestFuture((*actor.PID)(components.Curves[prefix]), domain.GetCurveStateRequest{}, s.queryTimeout).Result()
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, fmt.Sprintf("curve %s: %s", prefix, err))
		}
		views = append(views, toCurveView(res.(domain.GetCurveStateResponse)))
	}
	return c.JSON(http.StatusOK, views)
}

type pvOptimizationBody struct {
	Enable bool `json:"enable"`
}

type parameterBody struct {
	Value float64 `json:"value"`
}

func (s *Server) CurvePVOptimizationHandler(c echo.Context) error {
	var body pvOptimizationBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return s.curveCommand(c, domain.CurveSetPVOptimizationRequest{
		CurveRequestMixIn: domain.CurveRequestMixIn{Prefix: c.Param("prefix")},
		Enable:            body.Enable,
	})
}

func (s *Server) CurveExternalOffsetHandler(c echo.Context) error {
	var body pvOptimizationBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return s.curveCommand(c, domain.CurveSetExternalOffsetRequest{
		CurveRequestMixIn: domain.CurveRequestMixIn{Prefix: c.Param("prefix")},
		Enable:            body.Enable,
	})
}

func (s *Server) CurveParameterHandler(c echo.Context) error {
	var body parameterBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return s.curveCommand(c, domain.CurveSetParameterRequest{
		CurveRequestMixIn: domain.CurveRequestMixIn{Prefix: c.Param("prefix")},
		Param:             c.Param("param"),
		Value:             body.Value,
	})
}

// curveCommand routes through the master, which answers for inactive curves.
func (s *Server) curveCommand(c echo.Context, cmd domain.CurveRequest) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, cmd, s.queryTimeout).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	resp, ok := res.(domain.CurveConfigUpdateResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("unexpected response %T", res))
	}
	if resp.ResponseError != nil {
		if errors.Is(resp.ResponseError, domain.ErrConfiguration) {
			return echo.NewHTTPError(http.StatusBadRequest, resp.ResponseError.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, resp.ResponseError.Error())
	}
	return c.JSON(http.StatusOK, toCurveView(domain.GetCurveStateResponse{Config: resp.Config}))
}

// ModbusReconnectHandler drops and reopens the Modbus connection. The call
// waits for the new connection so the caller sees whether it came up.
func (s *Server) ModbusReconnectHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ModbusReconnectRequest{}, s.queryTimeout).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	resp, ok := res.(domain.ModbusReconnectResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("unexpected response %T", res))
	}
	if resp.ResponseError != nil {
		return echo.NewHTTPError(http.StatusBadGateway, resp.ResponseError.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reconnected"})
}

func (s *Server) components() (domain.GetBridgeComponentsResponse, error) {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetBridgeComponentsRequest{}, s.queryTimeout).Result()
	if err != nil {
		return domain.GetBridgeComponentsResponse{}, err
	}
	components, ok := res.(domain.GetBridgeComponentsResponse)
	if !ok {
		return domain.GetBridgeComponentsResponse{}, fmt.Errorf("unexpected response %T", res)
	}
	return components, nil
}
