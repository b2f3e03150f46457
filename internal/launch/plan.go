// Package launch turns a kernel launch request into a bounded execution
// geometry and submits it to the accelerator.
package launch

import (
	"github.com/samcharles93/offload/internal/device"
)

// Request is what the caller asked for. Non-positive TeamCount and
// ThreadLimit mean "pick for me"; a zero LoopTripCount means no hint.
type Request struct {
	TeamCount     int32  `json:"team_count" yaml:"team_count"`
	ThreadLimit   int32  `json:"thread_limit" yaml:"thread_limit"`
	LoopTripCount uint64 `json:"loop_trip_count" yaml:"loop_trip_count"`
}

// SingleTeam is the request used for plain target regions.
var SingleTeam = Request{TeamCount: 1}

// Geometry is a 1-D launch shape.
type Geometry struct {
	Groups          int `json:"groups"`
	ThreadsPerGroup int `json:"threads_per_group"`
}

// WorkItems is the total number of work-items launched.
func (g Geometry) WorkItems() uint64 {
	return uint64(g.Groups) * uint64(g.ThreadsPerGroup)
}

// Plan derives the launch geometry for a kernel on a device. envNumTeams is
// the process-wide team-count override, negative when unset; a trip-count
// hint is only honoured while it is unset.
func Plan(mode device.ExecMode, lim device.Descriptor, envNumTeams int, req Request) Geometry {
	threads := planThreads(mode, lim, req.ThreadLimit)
	return Geometry{
		Groups:          planGroups(mode, lim, envNumTeams, req, threads),
		ThreadsPerGroup: threads,
	}
}

func planThreads(mode device.ExecMode, lim device.Descriptor, threadLimit int32) int {
	var threads int
	if threadLimit > 0 {
		threads = int(threadLimit)
	} else {
		threads = lim.NumThreads
		if mode == device.Generic {
			// Room for the coordinator wavefront added below.
			threads -= lim.WavefrontSize
		}
	}
	if mode == device.Generic {
		threads += lim.WavefrontSize
	}
	if lim.ThreadsPerGroup > 0 && threads > lim.ThreadsPerGroup {
		threads = lim.ThreadsPerGroup
	}
	return max(threads, 1)
}

func planGroups(mode device.ExecMode, lim device.Descriptor, envNumTeams int, req Request, threads int) int {
	limit := lim.GroupsPerDevice
	var groups int
	switch {
	case req.TeamCount > 0 && int(req.TeamCount) > limit:
		groups = limit
	case req.TeamCount > 0:
		groups = int(req.TeamCount)
	case req.LoopTripCount > 0 && envNumTeams < 0:
		trip := req.LoopTripCount
		if mode == device.SPMD {
			trip = (trip-1)/uint64(threads) + 1
		}
		groups = limit
		if trip < uint64(limit) {
			groups = int(trip)
		}
	default:
		groups = lim.NumTeams
	}
	if groups > limit {
		groups = limit
	}
	return max(groups, 1)
}
