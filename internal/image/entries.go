package image

// HostEntry is one {name, address, size} triple from the host's offload
// entry list. Size zero denotes a kernel, a positive size a global variable.
// A zero Addr marks a host-only marker entry that is passed through.
type HostEntry struct {
	Name  string  `json:"name"`
	Addr  uintptr `json:"addr"`
	Size  uint64  `json:"size"`
	Flags int32   `json:"flags,omitempty"`
}

// Marker reports whether the entry is a host-only marker.
func (e HostEntry) Marker() bool {
	return e.Addr == 0
}

// DeviceImage is a device binary plus the host entries it exports.
type DeviceImage struct {
	Bytes   []byte
	Entries []HostEntry
}

const (
	// ExecModeSuffix names the companion symbol holding a kernel's execution mode.
	ExecModeSuffix = "_exec_mode"
	// DeviceEnvSymbol is written with the device environment after load when present.
	DeviceEnvSymbol = "omptarget_device_environment"
)

// hostAddrBase seeds synthetic host addresses for derived entry lists.
const hostAddrBase uintptr = 0x1000

// EntriesFromInfo derives a host entry list from an image's symbol table:
// every kernel becomes a size-zero entry, every global a sized entry.
// Execution mode companions and the device environment are runtime
// metadata and are left out.
func EntriesFromInfo(info *Info) []HostEntry {
	var out []HostEntry
	next := hostAddrBase
	for _, k := range info.Kernels {
		out = append(out, HostEntry{Name: k.Name, Addr: next})
		next += 0x10
	}
	for _, g := range info.Globals {
		out = append(out, HostEntry{Name: g.Name, Addr: next, Size: g.Size})
		next += 0x10
	}
	return out
}
