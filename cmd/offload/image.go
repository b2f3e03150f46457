package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/offload/internal/image"
	"github.com/samcharles93/offload/internal/logger"
)

var errNoImage = errors.New("missing device image path")

func openImage(cmd *cli.Command) (*image.File, error) {
	path := cmd.Args().First()
	if path == "" {
		return nil, errNoImage
	}
	f, err := image.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func validateCmd() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check whether a device image is supported",
		ArgsUsage: "<image>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f, err := openImage(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			platform, machine, err := image.Platform(f.Data)
			if err != nil {
				logger.FromContext(ctx).Debug("image rejected", "path", cmd.Args().First(), "err", err)
				return fmt.Errorf("%s: not a supported device image: %w", cmd.Args().First(), err)
			}
			_, err = fmt.Fprintf(stdout(), "%s: valid (machine %d, %s, %s)\n",
				cmd.Args().First(), uint16(machine), platform, humanize.IBytes(uint64(len(f.Data))))
			return err
		},
	}
}

func inspectCmd() *cli.Command {
	var format string
	return &cli.Command{
		Name:      "inspect",
		Usage:     "List the kernels and globals of a device image",
		ArgsUsage: "<image>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json, yaml)",
				Value:       "text",
				Destination: &format,
			},
			jsonFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f, err := openImage(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			info, err := image.Inspect(f.Data)
			if err != nil {
				return err
			}
			if jsonOutput {
				format = "json"
			}
			switch format {
			case "json":
				return printJSON(stdout(), info)
			case "yaml":
				return printYAML(stdout(), info)
			case "text":
				return printInfo(info)
			default:
				return fmt.Errorf("unknown format %q (expected text, json, or yaml)", format)
			}
		},
	}
}

func printInfo(info *image.Info) error {
	w := stdout()
	_, _ = fmt.Fprintf(w, "machine:  %d (%s)\n", info.Machine, info.MachineName)
	_, _ = fmt.Fprintf(w, "class:    %s\n", info.Class)
	_, _ = fmt.Fprintf(w, "platform: %s\n", info.Platform)
	_, _ = fmt.Fprintf(w, "kernels:  %d\n", len(info.Kernels))
	for _, k := range info.Kernels {
		mode := "spmd (default)"
		if k.ExecMode != nil {
			switch *k.ExecMode {
			case 0:
				mode = "spmd"
			case 1:
				mode = "generic"
			default:
				mode = fmt.Sprintf("invalid (%d)", *k.ExecMode)
			}
		}
		_, _ = fmt.Fprintf(w, "  %-40s %s\n", k.Name, mode)
	}
	_, _ = fmt.Fprintf(w, "globals:  %d\n", len(info.Globals))
	for _, g := range info.Globals {
		_, _ = fmt.Fprintf(w, "  %-40s %s\n", g.Name, humanize.IBytes(g.Size))
	}
	if info.DeviceEnvSize > 0 {
		_, _ = fmt.Fprintf(w, "device environment: %s\n", humanize.IBytes(info.DeviceEnvSize))
	}
	return nil
}
