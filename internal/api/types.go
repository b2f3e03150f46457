package api

import (
	"github.com/samcharles93/offload/internal/device"
	"github.com/samcharles93/offload/internal/image"
	"github.com/samcharles93/offload/internal/launch"
	"github.com/samcharles93/offload/internal/version"
)

type ErrorBody struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
}

type HealthResponse struct {
	Status  string       `json:"status"`
	Backend string       `json:"backend,omitempty"`
	Version version.Info `json:"version"`
}

type DevicesResponse struct {
	Object string              `json:"object"`
	Data   []device.Descriptor `json:"data"`
}

type ValidateResponse struct {
	Valid    bool   `json:"valid"`
	Machine  uint16 `json:"machine"`
	Platform string `json:"platform,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type InspectResponse struct {
	Info    *image.Info       `json:"info"`
	Entries []image.HostEntry `json:"entries"`
}

// PlanRequest asks for the geometry of a launch without running it.
type PlanRequest struct {
	Device int    `json:"device"`
	Mode   string `json:"mode"`
	launch.Request
}

type PlanResponse struct {
	Device    int             `json:"device"`
	Mode      string          `json:"mode"`
	Geometry  launch.Geometry `json:"geometry"`
	WorkItems uint64          `json:"work_items"`
}
