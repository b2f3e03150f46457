package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/offload/internal/device"
)

var (
	cellStyle       = lipgloss.NewStyle().Padding(0, 1)
	numberCellStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle     = lipgloss.NewStyle().Bold(true).Padding(0, 1)
)

func devicesCmd() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "Initialize every device and print its launch limits",
		Flags: []cli.Flag{jsonFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			devices := s.Registry().Descriptors()
			if jsonOutput {
				return printJSON(stdout(), devices)
			}
			_, err = fmt.Fprintf(stdout(), "%s\nbackend: %s\n", deviceTable(devices), s.backend)
			return err
		},
	}
}

func deviceTable(devices []device.Descriptor) string {
	t := lgtable.New().
		Border(lipgloss.NormalBorder()).
		Headers("DEVICE", "GROUPS", "THREADS/GROUP", "WAVEFRONT", "TEAMS", "THREADS").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case col == 0:
				return cellStyle
			}
			return numberCellStyle
		})
	for _, d := range devices {
		t.Row(
			strconv.Itoa(d.ID),
			strconv.Itoa(d.GroupsPerDevice),
			strconv.Itoa(d.ThreadsPerGroup),
			strconv.Itoa(d.WavefrontSize),
			strconv.Itoa(d.NumTeams),
			strconv.Itoa(d.NumThreads),
		)
	}
	return t.String()
}
