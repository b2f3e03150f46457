package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/offload/internal/config"
)

var (
	backendName string
	configFile  string
	logLevel    string
	logFormat   string
	debug       bool
	jsonOutput  bool
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "accelerator backend (auto, sim, atmi)",
			Value:       "auto",
			Destination: &backendName,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml",
			Value:       config.Path(),
			Destination: &configFile,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (trace, json, text)",
			Value:       "trace",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:        "json",
		Usage:       "print JSON",
		Destination: &jsonOutput,
	}
}

func deviceFlag(dest *int64) cli.Flag {
	return &cli.Int64Flag{
		Name:        "device",
		Aliases:     []string{"d"},
		Usage:       "device id",
		Destination: dest,
	}
}
