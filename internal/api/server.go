// Package api serves read-only views of the offload runtime over HTTP:
// device descriptors, image validation and inspection, and launch planning.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/offload/internal/device"
	"github.com/samcharles93/offload/internal/image"
	"github.com/samcharles93/offload/internal/launch"
	"github.com/samcharles93/offload/internal/version"
)

type Server struct {
	reg     *device.Registry
	backend string
}

func NewServer(reg *device.Registry, backend string) *Server {
	return &Server{reg: reg, backend: backend}
}

func (s *Server) Register(e *echo.Echo) {
	e.Use(requestID)

	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/devices", s.handleListDevices)
	e.GET("/v1/devices/:id", s.handleGetDevice)
	e.POST("/v1/images/validate", s.handleValidate)
	e.POST("/v1/images/inspect", s.handleInspect)
	e.POST("/v1/plan", s.handlePlan)
}

func (s *Server) handleHealth(c *echo.Context) error {
	status := "ok"
	if s.reg == nil || s.reg.Closed() {
		status = "unavailable"
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  status,
		Backend: s.backend,
		Version: version.Resolve(),
	})
}

func (s *Server) handleListDevices(c *echo.Context) error {
	devices := s.reg.Descriptors()
	if devices == nil {
		devices = []device.Descriptor{}
	}
	return c.JSON(http.StatusOK, DevicesResponse{Object: "list", Data: devices})
}

func (s *Server) handleGetDevice(c *echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return writeBadRequest(c, "device id must be an integer")
	}
	d, err := s.reg.Descriptor(id)
	if err != nil {
		return writeNotFound(c, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleValidate(c *echo.Context) error {
	data, err := readImage(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	platform, machine, err := image.Platform(data)
	resp := ValidateResponse{Valid: err == nil, Machine: uint16(machine)}
	if err != nil {
		resp.Reason = err.Error()
	} else {
		resp.Platform = platform.String()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleInspect(c *echo.Context) error {
	data, err := readImage(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	info, err := image.Inspect(data)
	if err != nil {
		return writeError(c, http.StatusUnprocessableEntity, "unsupported_image_error", err.Error())
	}
	entries := image.EntriesFromInfo(info)
	if entries == nil {
		entries = []image.HostEntry{}
	}
	return c.JSON(http.StatusOK, InspectResponse{Info: info, Entries: entries})
}

func (s *Server) handlePlan(c *echo.Context) error {
	req, err := decodeJSON[PlanRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, "invalid JSON body: "+err.Error())
	}
	resp, err := s.plan(req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return writeBadRequest(c, err.Error())
		}
		return writeNotFound(c, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) plan(req PlanRequest) (PlanResponse, error) {
	mode := device.SPMD
	if req.Mode != "" {
		m, err := device.ParseExecMode(req.Mode)
		if err != nil {
			return PlanResponse{}, newInvalidRequest(err.Error())
		}
		mode = m
	}
	lim, err := s.reg.Descriptor(req.Device)
	if err != nil {
		return PlanResponse{}, err
	}
	geo := launch.Plan(mode, lim, s.reg.EnvNumTeams(), req.Request)
	return PlanResponse{
		Device:    req.Device,
		Mode:      mode.String(),
		Geometry:  geo,
		WorkItems: geo.WorkItems(),
	}, nil
}
