package launch

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/samcharles93/offload/internal/accel"
	"github.com/samcharles93/offload/internal/device"
	"github.com/samcharles93/offload/internal/logger"
)

var ErrLaunch = errors.New("launch: kernel submission failed")

// Dispatcher runs kernels synchronously on registry devices.
type Dispatcher struct {
	reg *device.Registry
	rt  accel.Runtime
	log logger.Logger
}

func NewDispatcher(reg *device.Registry, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Discard()
	}
	return &Dispatcher{reg: reg, rt: reg.Runtime(), log: log}
}

// RunTeamRegion plans the launch, submits it and blocks until the kernel
// completes. Failed launches are not retried.
func (d *Dispatcher) RunTeamRegion(deviceID int, h device.KernelHandle, args []Arg, req Request) (Geometry, error) {
	lim, err := d.reg.Descriptor(deviceID)
	if err != nil {
		return Geometry{}, err
	}
	k, err := d.reg.Kernel(h)
	if err != nil {
		return Geometry{}, err
	}
	vals, sizes, err := Marshal(args)
	if err != nil {
		return Geometry{}, err
	}

	log := d.log.With("launch", uuid.NewString(), "device", deviceID, "kernel", k.Name)
	log.Debug("run target team region",
		"mode", k.Mode,
		"team_count", req.TeamCount,
		"thread_limit", req.ThreadLimit,
		"loop_trip_count", req.LoopTripCount,
		"args", len(vals),
	)
	geo := Plan(k.Mode, lim, d.reg.EnvNumTeams(), req)
	log.Debug("launch geometry", "groups", geo.Groups, "threads_per_group", geo.ThreadsPerGroup)

	kern, err := d.rt.CreateKernel(sizes)
	if err != nil {
		return geo, fmt.Errorf("%w: create kernel %s: %v", ErrLaunch, k.Name, err)
	}
	defer func() {
		if err := kern.Release(); err != nil {
			log.Warn("failed to release kernel handle", "err", err)
		}
	}()

	if err := kern.AddGPUImpl(k.Name, device.GPUImplID); err != nil {
		return geo, fmt.Errorf("%w: attach %s: %v", ErrLaunch, k.Name, err)
	}
	threads := uint64(geo.ThreadsPerGroup)
	params := accel.LaunchParams{
		Device:      deviceID,
		GridDim:     [3]uint64{geo.WorkItems(), 1, 1},
		GroupDim:    [3]uint64{threads, 1, 1},
		Synchronous: true,
		Groupable:   false,
		KernelID:    device.GPUImplID,
	}
	if err := kern.Launch(params, vals); err != nil {
		log.Error("kernel launch failed", "err", err)
		return geo, fmt.Errorf("%w: %s: %w", ErrLaunch, k.Name, err)
	}
	log.Debug("kernel completed")
	return geo, nil
}

// RunRegion runs a plain target region: one team, default threads.
func (d *Dispatcher) RunRegion(deviceID int, h device.KernelHandle, args []Arg) (Geometry, error) {
	return d.RunTeamRegion(deviceID, h, args, SingleTeam)
}
