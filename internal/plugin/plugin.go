// Package plugin is the boundary the host offload dispatcher calls into.
// Every operation reports a status or a nil result; errors are logged and
// never returned.
package plugin

import (
	"github.com/samcharles93/offload/internal/accel"
	"github.com/samcharles93/offload/internal/config"
	"github.com/samcharles93/offload/internal/device"
	"github.com/samcharles93/offload/internal/image"
	"github.com/samcharles93/offload/internal/launch"
	"github.com/samcharles93/offload/internal/logger"
)

// Boundary status codes.
const (
	OffloadSuccess int32 = 0
	OffloadFail    int32 = ^0
)

// Plugin is one offload session: the device registry plus a dispatcher.
type Plugin struct {
	reg  *device.Registry
	disp *launch.Dispatcher
	log  logger.Logger
}

// New opens the registry on rt. A runtime that fails to initialize yields a
// plugin with zero devices.
func New(rt accel.Runtime, env config.Env, log logger.Logger) *Plugin {
	if log == nil {
		log = logger.Discard()
	}
	reg, err := device.Open(rt, env, log)
	if err != nil {
		log.Error("offload runtime unavailable", "err", err)
	}
	return &Plugin{
		reg:  reg,
		disp: launch.NewDispatcher(reg, log),
		log:  log,
	}
}

// Close tears the session down. It returns OffloadFail when called twice or
// when the runtime fails to finalize.
func (p *Plugin) Close() int32 {
	return p.status(p.reg.Close(), "close")
}

func (p *Plugin) Registry() *device.Registry {
	return p.reg
}

func (p *Plugin) Dispatcher() *launch.Dispatcher {
	return p.disp
}

func (p *Plugin) status(err error, op string) int32 {
	if err != nil {
		p.log.Debug(op+" failed", "err", err)
		return OffloadFail
	}
	return OffloadSuccess
}

func (p *Plugin) IsValidBinary(img []byte) bool {
	return image.IsValid(img)
}

func (p *Plugin) NumberOfDevices() int {
	return p.reg.NumberOfDevices()
}

func (p *Plugin) InitDevice(id int32) int32 {
	return p.status(p.reg.InitDevice(int(id)), "init device")
}

// LoadBinary loads img on device id and returns its entry table, or nil
// when the load failed.
func (p *Plugin) LoadBinary(id int32, img image.DeviceImage) *device.Table {
	table, err := p.reg.LoadBinary(int(id), img)
	if err != nil {
		p.log.Debug("load binary failed", "device", id, "err", err)
		return nil
	}
	return &table
}

// RunTargetTeamRegion runs the kernel behind h. argCount must match the
// number of arguments.
func (p *Plugin) RunTargetTeamRegion(id int32, h device.KernelHandle, args []accel.DevicePtr, argCount, teamNum, threadLimit int32, tripCount uint64) int32 {
	if argCount < 0 || int(argCount) != len(args) {
		p.log.Debug("argument count mismatch", "device", id, "arg_count", argCount, "args", len(args))
		return OffloadFail
	}
	_, err := p.disp.RunTeamRegion(int(id), h, launch.Pointers(args), launch.Request{
		TeamCount:     teamNum,
		ThreadLimit:   threadLimit,
		LoopTripCount: tripCount,
	})
	return p.status(err, "run target team region")
}

// RunTargetRegion runs the kernel behind h as a single team.
func (p *Plugin) RunTargetRegion(id int32, h device.KernelHandle, args []accel.DevicePtr, argCount int32) int32 {
	return p.RunTargetTeamRegion(id, h, args, argCount, 1, 0, 0)
}

// DataAlloc returns zero on failure.
func (p *Plugin) DataAlloc(id int32, size int64) accel.DevicePtr {
	ptr, err := p.reg.DataAlloc(int(id), size)
	if err != nil {
		p.log.Debug("data alloc failed", "device", id, "err", err)
		return 0
	}
	return ptr
}

func (p *Plugin) DataSubmit(id int32, dst accel.DevicePtr, src []byte) int32 {
	return p.status(p.reg.DataSubmit(int(id), dst, src), "data submit")
}

func (p *Plugin) DataRetrieve(id int32, dst []byte, src accel.DevicePtr) int32 {
	return p.status(p.reg.DataRetrieve(int(id), dst, src), "data retrieve")
}

func (p *Plugin) DataDelete(id int32, ptr accel.DevicePtr) int32 {
	return p.status(p.reg.DataDelete(int(id), ptr), "data delete")
}

// Plan previews the geometry a launch of h on device id would get.
func (p *Plugin) Plan(id int32, h device.KernelHandle, req launch.Request) (launch.Geometry, bool) {
	lim, err := p.reg.Descriptor(int(id))
	if err != nil {
		return launch.Geometry{}, false
	}
	k, err := p.reg.Kernel(h)
	if err != nil {
		return launch.Geometry{}, false
	}
	return launch.Plan(k.Mode, lim, p.reg.EnvNumTeams(), req), true
}
