package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/offload/internal/accel/sim"
	"github.com/samcharles93/offload/internal/config"
	"github.com/samcharles93/offload/internal/device"
	"github.com/samcharles93/offload/internal/image/imagetest"
	"github.com/samcharles93/offload/internal/launch"
)

func newTestEcho(t *testing.T) *echo.Echo {
	t.Helper()
	rt := sim.New(sim.Options{Devices: []sim.DeviceSpec{
		{ComputeUnits: 60, WorkgroupMaxDim: 1024, WavefrontSize: 64},
		{ComputeUnits: 16, WorkgroupMaxDim: 256, WavefrontSize: 32},
	}})
	reg, err := device.Open(rt, config.DefaultEnv(), nil)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	for i := range reg.NumberOfDevices() {
		if err := reg.InitDevice(i); err != nil {
			t.Fatalf("init device %d: %v", i, err)
		}
	}
	e := echo.New()
	NewServer(reg, "sim").Register(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	rec := do(t, e, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	got := decode[HealthResponse](t, rec)
	if got.Status != "ok" || got.Backend != "sim" || got.Version.Version == "" {
		t.Fatalf("unexpected health: %+v", got)
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatalf("missing request id header")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "abc-123")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if got := rec.Header().Get(headerRequestID); got != "abc-123" {
		t.Fatalf("request id: %q", got)
	}
}

func TestListDevices(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	rec := do(t, e, http.MethodGet, "/v1/devices", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[DevicesResponse](t, rec)
	if len(got.Data) != 2 {
		t.Fatalf("devices: %+v", got)
	}
	if got.Data[1].GroupsPerDevice != 16 || got.Data[1].ThreadsPerGroup != 256 || got.Data[1].WavefrontSize != 32 {
		t.Fatalf("device 1: %+v", got.Data[1])
	}

	rec = do(t, e, http.MethodGet, "/v1/devices/1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get device status: %d", rec.Code)
	}
	if d := decode[device.Descriptor](t, rec); d.ID != 1 {
		t.Fatalf("device: %+v", d)
	}
	if rec := do(t, e, http.MethodGet, "/v1/devices/7", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing device status: %d", rec.Code)
	}
	if rec := do(t, e, http.MethodGet, "/v1/devices/x", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status: %d", rec.Code)
	}
}

func TestValidateImage(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	cases := []struct {
		name     string
		body     []byte
		valid    bool
		platform string
	}{
		{"amdgcn", imagetest.ELF64(imagetest.Spec{Machine: imagetest.MachineAMDGPU}), true, "amdgcn"},
		{"hsail", imagetest.ELF64(imagetest.Spec{Machine: 44890}), true, "brig"},
		{"x86", imagetest.ELF64(imagetest.Spec{Machine: 62}), false, ""},
		{"garbage", []byte("#!/bin/sh\n"), false, ""},
	}
	for _, tc := range cases {
		rec := do(t, e, http.MethodPost, "/v1/images/validate", echo.MIMEOctetStream, bytes.NewReader(tc.body))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", tc.name, rec.Code)
		}
		got := decode[ValidateResponse](t, rec)
		if got.Valid != tc.valid || got.Platform != tc.platform {
			t.Fatalf("%s: %+v", tc.name, got)
		}
		if !got.Valid && got.Reason == "" {
			t.Fatalf("%s: missing reason", tc.name)
		}
	}

	rec := do(t, e, http.MethodPost, "/v1/images/validate", echo.MIMEOctetStream, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body status: %d", rec.Code)
	}
}

func TestInspectImage(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	bin := imagetest.ELF64(imagetest.Spec{
		Machine: imagetest.MachineAMDGPU,
		Symbols: []imagetest.Symbol{
			imagetest.Kernel("saxpy"),
			imagetest.ExecMode("saxpy", 1),
			imagetest.Global("scale", make([]byte, 4)),
		},
	})
	rec := do(t, e, http.MethodPost, "/v1/images/inspect", echo.MIMEOctetStream, bytes.NewReader(bin))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[InspectResponse](t, rec)
	if got.Info == nil || len(got.Info.Kernels) != 1 || got.Info.Kernels[0].Name != "saxpy" {
		t.Fatalf("info: %+v", got.Info)
	}
	if len(got.Entries) != 2 || got.Entries[1].Name != "scale" || got.Entries[1].Size != 4 {
		t.Fatalf("entries: %+v", got.Entries)
	}

	rec = do(t, e, http.MethodPost, "/v1/images/inspect", echo.MIMEOctetStream, strings.NewReader("nope"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("garbage status: %d", rec.Code)
	}
}

func TestPlan(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	cases := []struct {
		body string
		want PlanResponse
	}{
		{`{"device":0,"team_count":1000}`, PlanResponse{Device: 0, Mode: "spmd", Geometry: launchGeometry(60, 128)}},
		{`{"device":1,"mode":"spmd","loop_trip_count":640,"thread_limit":64}`, PlanResponse{Device: 1, Mode: "spmd", Geometry: launchGeometry(10, 64)}},
		{`{"device":0,"mode":"generic"}`, PlanResponse{Device: 0, Mode: "generic", Geometry: launchGeometry(60, 128)}},
	}
	for _, tc := range cases {
		rec := do(t, e, http.MethodPost, "/v1/plan", echo.MIMEApplicationJSON, strings.NewReader(tc.body))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d body=%s", tc.body, rec.Code, rec.Body.String())
		}
		got := decode[PlanResponse](t, rec)
		tc.want.WorkItems = tc.want.Geometry.WorkItems()
		if got != tc.want {
			t.Fatalf("%s: got %+v want %+v", tc.body, got, tc.want)
		}
	}

	errCases := []struct {
		body   string
		status int
	}{
		{`{"device":0,"mode":"simd"}`, http.StatusBadRequest},
		{`{"device":9}`, http.StatusNotFound},
		{`{"device":0,"bogus":1}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tc := range errCases {
		rec := do(t, e, http.MethodPost, "/v1/plan", echo.MIMEApplicationJSON, strings.NewReader(tc.body))
		if rec.Code != tc.status {
			t.Fatalf("%s: status %d want %d", tc.body, rec.Code, tc.status)
		}
		if !strings.Contains(rec.Body.String(), `"error"`) {
			t.Fatalf("%s: missing error body: %s", tc.body, rec.Body.String())
		}
	}
}

func launchGeometry(groups, threads int) launch.Geometry {
	return launch.Geometry{Groups: groups, ThreadsPerGroup: threads}
}
