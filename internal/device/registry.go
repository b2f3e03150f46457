package device

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/offload/internal/accel"
	"github.com/samcharles93/offload/internal/config"
	"github.com/samcharles93/offload/internal/logger"
)

// registryGen stamps kernel handles so they cannot cross registries.
var registryGen atomic.Uint32

// Registry is the process-wide device state. Loads and clears for one
// device must not run concurrently with other operations on that device.
// Lookups on loaded tables and kernel records may run concurrently.
type Registry struct {
	rt  accel.Runtime
	env config.Env
	log logger.Logger
	gen uint32

	initialized bool
	devices     []Descriptor
	tables      [][]Entry

	mu      sync.RWMutex
	kernels []Kernel

	closed    atomic.Bool
	closeOnce sync.Once
}

// Open initializes the accelerator runtime and reads the device count.
// When the runtime fails to initialize the registry still returns, with zero
// devices, together with an error wrapping ErrInit.
func Open(rt accel.Runtime, env config.Env, log logger.Logger) (*Registry, error) {
	if log == nil {
		log = logger.Discard()
	}
	r := &Registry{
		rt:  rt,
		env: env,
		log: log,
		gen: registryGen.Add(1),
	}

	log.Debug("start initializing accelerator runtime")
	if err := rt.Init(); err != nil {
		log.Error("error when initializing accelerator runtime", "err", err)
		return r, fmt.Errorf("%w: %v", ErrInit, err)
	}
	r.initialized = true

	n := rt.DeviceCount()
	if n < 0 {
		n = 0
	}
	r.devices = make([]Descriptor, n)
	r.tables = make([][]Entry, n)
	for i := range r.devices {
		// Conservative until InitDevice queries the hardware.
		r.devices[i] = Descriptor{
			ID:              i,
			GroupsPerDevice: DefaultNumTeams,
			ThreadsPerGroup: DefaultNumThreads,
			WavefrontSize:   DefaultWavefrontSize,
			NumTeams:        DefaultNumTeams,
			NumThreads:      DefaultNumThreads,
		}
	}
	log.Debug("number of devices", "count", n)
	if env.TeamLimit > 0 {
		log.Debug("parsed team limit", "env", config.EnvTeamLimit, "value", env.TeamLimit)
	}
	if env.NumTeams > 0 {
		log.Debug("parsed default team count", "env", config.EnvNumTeams, "value", env.NumTeams)
	}
	return r, nil
}

// NumberOfDevices is the device count seen at Open.
func (r *Registry) NumberOfDevices() int {
	return len(r.devices)
}

// EnvNumTeams is the team-count override, config.Unset when absent.
func (r *Registry) EnvNumTeams() int {
	return r.env.NumTeams
}

// Env is the override set the registry was opened with.
func (r *Registry) Env() config.Env {
	return r.env
}

// Runtime exposes the accelerator stack for launch dispatch.
func (r *Registry) Runtime() accel.Runtime {
	return r.rt
}

func (r *Registry) check(id int) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if id < 0 || id >= len(r.devices) {
		return fmt.Errorf("%w: %d (have %d)", ErrInvalidDevice, id, len(r.devices))
	}
	return nil
}

// InitDevice queries device capabilities and fills the descriptor. Calling it
// again recomputes the same values. A failed query keeps the static default
// for that attribute.
func (r *Registry) InitDevice(id int) error {
	if err := r.check(id); err != nil {
		return err
	}
	log := r.log.With("device", id)

	groups := r.query(log, id, accel.AttrComputeUnitCount, TeamsAbsoluteLimit)
	if groups == 0 || groups > TeamsAbsoluteLimit {
		log.Debug("adjusting groups per device to hard limit", "queried", groups, "limit", TeamsAbsoluteLimit)
		groups = TeamsAbsoluteLimit
	}
	threads := r.query(log, id, accel.AttrWorkgroupMaxDimX, ThreadsAbsoluteLimit)
	if threads == 0 || threads > ThreadsAbsoluteLimit {
		log.Debug("adjusting threads per group to hard limit", "queried", threads, "limit", ThreadsAbsoluteLimit)
		threads = ThreadsAbsoluteLimit
	}
	wavefront := r.query(log, id, accel.AttrWavefrontSize, DefaultWavefrontSize)
	if wavefront == 0 {
		wavefront = DefaultWavefrontSize
	}

	if r.env.TeamLimit > 0 && groups > r.env.TeamLimit {
		log.Debug("capping groups per device", "env", config.EnvTeamLimit, "value", r.env.TeamLimit)
		groups = r.env.TeamLimit
	}

	numTeams := DefaultNumTeams
	if r.env.NumTeams > 0 {
		numTeams = r.env.NumTeams
	}
	if numTeams > groups {
		numTeams = groups
	}
	numThreads := DefaultNumThreads
	if numThreads > threads {
		numThreads = threads
	}

	r.devices[id] = Descriptor{
		ID:              id,
		GroupsPerDevice: groups,
		ThreadsPerGroup: threads,
		WavefrontSize:   wavefront,
		NumTeams:        numTeams,
		NumThreads:      numThreads,
	}
	log.Debug("device initialized",
		"groups_per_device", groups,
		"threads_per_group", threads,
		"wavefront_size", wavefront,
		"num_teams", numTeams,
		"num_threads", numThreads,
	)
	return nil
}

func (r *Registry) query(log logger.Logger, id int, attr accel.Attribute, fallback int) int {
	v, err := r.rt.DeviceInfo(id, attr)
	if err != nil {
		log.Debug("error getting device attribute, using default", "attr", attr, "default", fallback, "err", err)
		return fallback
	}
	log.Debug("queried device attribute", "attr", attr, "value", v)
	return int(v)
}

// Descriptor returns a copy of the device's descriptor.
func (r *Registry) Descriptor(id int) (Descriptor, error) {
	if err := r.check(id); err != nil {
		return Descriptor{}, err
	}
	return r.devices[id], nil
}

// Descriptors returns a copy of every descriptor.
func (r *Registry) Descriptors() []Descriptor {
	if r.closed.Load() {
		return nil
	}
	out := make([]Descriptor, len(r.devices))
	copy(out, r.devices)
	return out
}

// AddOffloadEntry appends e to the device's table.
func (r *Registry) AddOffloadEntry(id int, e Entry) error {
	if err := r.check(id); err != nil {
		return err
	}
	r.tables[id] = append(r.tables[id], e)
	return nil
}

// FindOffloadEntry looks an entry up by name.
func (r *Registry) FindOffloadEntry(id int, name string) (Entry, bool) {
	if r.check(id) != nil {
		return Entry{}, false
	}
	for _, e := range r.tables[id] {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// OffloadEntriesTable returns the device's current table.
func (r *Registry) OffloadEntriesTable(id int) (Table, error) {
	if err := r.check(id); err != nil {
		return Table{}, err
	}
	return Table{Device: id, Entries: r.tables[id]}, nil
}

// ClearOffloadEntriesTable empties the device's table. Kernel records stay
// alive until Close.
func (r *Registry) ClearOffloadEntriesTable(id int) error {
	if err := r.check(id); err != nil {
		return err
	}
	r.tables[id] = nil
	return nil
}

func (r *Registry) addKernel(k Kernel) KernelHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kernels = append(r.kernels, k)
	return KernelHandle{gen: r.gen, idx: uint32(len(r.kernels))}
}

// Kernel resolves a handle to its kernel record.
func (r *Registry) Kernel(h KernelHandle) (Kernel, error) {
	if r.closed.Load() {
		return Kernel{}, ErrClosed
	}
	if !h.Valid() || h.gen != r.gen {
		return Kernel{}, fmt.Errorf("%w: %s", ErrInvalidKernel, h)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(h.idx) > len(r.kernels) {
		return Kernel{}, fmt.Errorf("%w: %s", ErrInvalidKernel, h)
	}
	return r.kernels[h.idx-1], nil
}

// KernelCount is the number of kernel records created since Open.
func (r *Registry) KernelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.kernels)
}

// Close releases every kernel record and then finalizes the runtime. It runs
// once; later calls report ErrClosed.
func (r *Registry) Close() error {
	err := ErrClosed
	r.closeOnce.Do(func() {
		r.closed.Store(true)

		r.mu.Lock()
		n := len(r.kernels)
		r.kernels = nil
		r.mu.Unlock()
		r.tables = nil
		r.log.Debug("released kernel records", "count", n)

		err = nil
		if r.initialized {
			if ferr := r.rt.Finalize(); ferr != nil {
				r.log.Error("error when finalizing accelerator runtime", "err", ferr)
				err = fmt.Errorf("device: finalize: %w", ferr)
			}
		}
	})
	return err
}

// Closed reports whether Close has run.
func (r *Registry) Closed() bool {
	return r.closed.Load()
}
