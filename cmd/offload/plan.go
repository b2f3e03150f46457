package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/offload/internal/device"
	"github.com/samcharles93/offload/internal/launch"
)

// launchOptions holds the launch flags shared by plan and run.
type launchOptions struct {
	teams     int64
	threads   int64
	tripCount uint64
}

func (o *launchOptions) flags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "teams",
			Usage:       "requested team count (0 uses the device default)",
			Destination: &o.teams,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "thread limit per team (0 uses the device default)",
			Destination: &o.threads,
		},
		&cli.Uint64Flag{
			Name:        "trip-count",
			Usage:       "loop trip count",
			Destination: &o.tripCount,
		},
	}
}

func (o *launchOptions) request() launch.Request {
	return launch.Request{
		TeamCount:     int32(o.teams),
		ThreadLimit:   int32(o.threads),
		LoopTripCount: o.tripCount,
	}
}

func planCmd() *cli.Command {
	var (
		dev  int64
		mode string
		opts launchOptions
	)
	return &cli.Command{
		Name:  "plan",
		Usage: "Show the launch geometry a region would get on a device",
		Flags: append(opts.flags(),
			deviceFlag(&dev),
			&cli.StringFlag{
				Name:        "mode",
				Usage:       "kernel execution mode (spmd, generic)",
				Value:       "spmd",
				Destination: &mode,
			},
			jsonFlag(),
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := device.ParseExecMode(mode)
			if err != nil {
				return err
			}
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			reg := s.Registry()
			lim, err := reg.Descriptor(int(dev))
			if err != nil {
				return err
			}
			geo := launch.Plan(m, lim, reg.EnvNumTeams(), opts.request())
			if jsonOutput {
				return printJSON(stdout(), struct {
					Device    int64  `json:"device"`
					Mode      string `json:"mode"`
					Groups    int    `json:"groups"`
					Threads   int    `json:"threads_per_group"`
					WorkItems uint64 `json:"work_items"`
				}{dev, m.String(), geo.Groups, geo.ThreadsPerGroup, geo.WorkItems()})
			}
			_, err = fmt.Fprintf(stdout(), "device %d (%s): %d groups x %d threads = %d work items\n",
				dev, m, geo.Groups, geo.ThreadsPerGroup, geo.WorkItems())
			return err
		},
	}
}
