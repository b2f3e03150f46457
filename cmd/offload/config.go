package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/samcharles93/offload/internal/backend"
	"github.com/samcharles93/offload/internal/config"
	"github.com/samcharles93/offload/internal/logger"
	"github.com/samcharles93/offload/internal/plugin"
)

// applyConfig fills flag values from the config file when the flag was
// not set on the command line.
func applyConfig(c *cli.Command, cfg config.File) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		backendName = cfg.Backend
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg config.File, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	applyConfig(cmd, config.Load(configFile))

	level := logger.ParseLevel(logLevel)
	if debug || config.DebugLevel(nil) > 0 {
		level = slog.LevelDebug
	}
	var log logger.Logger
	switch logFormat {
	case "json":
		log = logger.JSON(os.Stderr, level)
	case "text":
		log = logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	case "trace", "":
		log = logger.Trace(os.Stderr, level, isTerminal(os.Stderr))
	default:
		return ctx, fmt.Errorf("unknown log format %q (expected trace, json, or text)", logFormat)
	}
	return logger.WithContext(ctx, log), nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// session is an open plugin plus what it was opened with.
type session struct {
	*plugin.Plugin
	backend string
	env     config.Env
}

// openSession selects the backend, opens the plugin and initializes every
// device.
func openSession(ctx context.Context) (*session, error) {
	log := logger.FromContext(ctx)
	cfg := config.Load(configFile)
	env := cfg.Merge(config.FromEnviron(nil))

	rt, name, err := backend.Open(backendName, backend.Options{Sim: backend.SimOptions(cfg.Sim)})
	if err != nil {
		return nil, err
	}
	p := plugin.New(rt, env, log)
	if p.NumberOfDevices() == 0 {
		p.Close()
		return nil, fmt.Errorf("no %s devices available", name)
	}
	for i := range p.NumberOfDevices() {
		if st := p.InitDevice(int32(i)); st != plugin.OffloadSuccess {
			p.Close()
			return nil, fmt.Errorf("init device %d failed", i)
		}
	}
	log.Debug("session opened", "backend", name, "devices", p.NumberOfDevices())
	return &session{Plugin: p, backend: name, env: env}, nil
}
