package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/offload/internal/accel"
	"github.com/samcharles93/offload/internal/device"
	"github.com/samcharles93/offload/internal/image"
	"github.com/samcharles93/offload/internal/logger"
	"github.com/samcharles93/offload/internal/plugin"
)

func runCmd() *cli.Command {
	var (
		dev      int64
		kernel   string
		manifest string
		argBytes []int64
		opts     launchOptions
	)
	return &cli.Command{
		Name:      "run",
		Usage:     "Load a device image and launch one of its kernels",
		ArgsUsage: "<image>",
		Flags: append(opts.flags(),
			deviceFlag(&dev),
			&cli.StringFlag{
				Name:        "kernel",
				Aliases:     []string{"k"},
				Usage:       "kernel entry to launch",
				Required:    true,
				Destination: &kernel,
			},
			&cli.StringFlag{
				Name:        "entries",
				Usage:       "host entry manifest (yaml or json); derived from the image when empty",
				Destination: &manifest,
			},
			&cli.Int64SliceFlag{
				Name:        "arg-bytes",
				Usage:       "allocate a zeroed device buffer of this size per kernel argument",
				Destination: &argBytes,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			f, err := openImage(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			entries, err := hostEntries(f.Data, manifest)
			if err != nil {
				return err
			}

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			id := int32(dev)
			table := s.LoadBinary(id, image.DeviceImage{Bytes: f.Data, Entries: entries})
			if table == nil {
				return fmt.Errorf("load %s on device %d failed", cmd.Args().First(), dev)
			}
			entry, ok := s.Registry().FindOffloadEntry(int(dev), kernel)
			if !ok || entry.Kind != device.EntryKernel {
				return fmt.Errorf("kernel %q not found in image", kernel)
			}

			args := make([]accel.DevicePtr, 0, len(argBytes)+1)
			defer func() {
				for _, ptr := range args {
					if ptr != 0 {
						s.DataDelete(id, ptr)
					}
				}
			}()
			for i, n := range argBytes {
				if n < 0 {
					return fmt.Errorf("argument %d: negative size %d", i, n)
				}
				ptr := s.DataAlloc(id, n)
				if ptr == 0 {
					return fmt.Errorf("allocate argument %d (%s) failed", i, humanize.IBytes(uint64(n)))
				}
				args = append(args, ptr)
				if st := s.DataSubmit(id, ptr, make([]byte, n)); st != plugin.OffloadSuccess {
					return fmt.Errorf("zero argument %d failed", i)
				}
			}
			// Trailing 32-bit slot expected by the outlined region.
			args = append(args, 0)

			req := opts.request()
			geo, _ := s.Plan(id, entry.Kernel, req)
			st := s.RunTargetTeamRegion(id, entry.Kernel, args, int32(len(args)), req.TeamCount, req.ThreadLimit, req.LoopTripCount)
			if st != plugin.OffloadSuccess {
				return fmt.Errorf("launch %s failed", kernel)
			}
			log.Debug("region complete", "kernel", kernel, "device", dev, "groups", geo.Groups, "threads", geo.ThreadsPerGroup)
			_, err = fmt.Fprintf(stdout(), "%s: %d groups x %d threads on device %d (%s)\n",
				kernel, geo.Groups, geo.ThreadsPerGroup, dev, s.backend)
			return err
		},
	}
}

// hostEntries reads the entry manifest when given and otherwise derives the
// entry list from the image's own symbols.
func hostEntries(img []byte, manifest string) ([]image.HostEntry, error) {
	if manifest != "" {
		return image.LoadManifest(manifest)
	}
	info, err := image.Inspect(img)
	if err != nil {
		return nil, err
	}
	return image.EntriesFromInfo(info), nil
}
