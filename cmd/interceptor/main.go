// Package main runs the projectile interceptor.
package main

import (
	"context"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"goji.io"
	"goji.io/pat"

	"github.com/imhunterand/iDA-projectile/config"
	"github.com/imhunterand/iDA-projectile/logging"
	"github.com/imhunterand/iDA-projectile/orchestrator"
)

var logger = logging.NewLogger("interceptor")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,usage=config file; built in defaults are used when empty"`
	Sim        bool   `flag:"sim,usage=force simulation with the simulated actuator"`
	Debug      bool   `flag:"debug,usage=log at debug level"`
	LogFile    string `flag:"log-file,usage=also write JSON logs to this rotating file"`
	NoShell    bool   `flag:"no-shell,usage=do not read operator commands from stdin"`
	WebProfile bool   `flag:"webprofile,usage=include profiler in http server"`
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg := config.Default()
	if argsParsed.ConfigFile != "" {
		if cfg, err = config.Read(argsParsed.ConfigFile); err != nil {
			return err
		}
	}
	if argsParsed.Sim {
		cfg.Simulation = true
		cfg.Actuator.Kind = "sim"
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if argsParsed.NoShell {
		cfg.Shell = false
	}

	level := cfg.Log.Level
	if argsParsed.Debug {
		level = logging.DEBUG
	}
	fileCfg := cfg.Log.File
	if argsParsed.LogFile != "" {
		fileCfg = &logging.FileConfig{Path: argsParsed.LogFile}
	}
	if fileCfg != nil {
		logger = logging.NewFileLogger("interceptor", level, *fileCfg)
	} else {
		logger.SetLevel(level)
	}
	if registry := logging.RegistryOf(logger); registry != nil {
		if err := registry.Apply(cfg.Log.Levels); err != nil {
			return err
		}
	}
	defer func() {
		// syncing a terminal fails on some platforms
		utils.UncheckedError(logger.Sync())
	}()

	renderer, wsHandler, err := orchestrator.NewRenderer(cfg, logger.Sublogger("render"))
	if err != nil {
		return err
	}
	if closer, ok := wsHandler.(interface{ Close() error }); ok {
		defer func() { err = multierr.Combine(err, closer.Close()) }()
	}

	deps := orchestrator.Deps{Renderer: renderer, GainsFile: cfg.ConfigFilePath}
	if cfg.Shell {
		deps.ShellIn = os.Stdin
		deps.ShellOut = os.Stdout
	}
	orch, err := orchestrator.New(cfg, deps, logger)
	if err != nil {
		return err
	}

	if cfg.HTTPAddr != "" {
		_, stop, serr := serveHTTP(cfg.HTTPAddr, orch, wsHandler, argsParsed.WebProfile, logger.Sublogger("http"))
		if serr != nil {
			return multierr.Combine(serr, orch.Stop())
		}
		defer func() { err = multierr.Combine(err, stop()) }()
	}

	orch.Start(ctx)
	utils.ContextMainReadyFunc(ctx)()
	return orch.Wait()
}

// serveHTTP serves metrics and, when rendering to websockets, the frame stream. It returns the
// bound address and a function that shuts the server down.
func serveHTTP(
	addr string, orch *orchestrator.Orchestrator, ws http.Handler, profile bool, logger logging.Logger,
) (net.Addr, func() error, error) {
	mux := goji.NewMux()
	mux.Handle(pat.Get("/metrics"), orch.Metrics().Handler())
	if ws != nil {
		mux.Handle(pat.Get("/ws"), ws)
	}
	if profile {
		mux.HandleFunc(pat.New("/debug/pprof/"), pprof.Index)
		mux.HandleFunc(pat.New("/debug/pprof/cmdline"), pprof.Cmdline)
		mux.HandleFunc(pat.New("/debug/pprof/profile"), pprof.Profile)
		mux.HandleFunc(pat.New("/debug/pprof/symbol"), pprof.Symbol)
		mux.HandleFunc(pat.New("/debug/pprof/trace"), pprof.Trace)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "listening on %s", addr)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	utils.PanicCapturingGo(func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("http server stopped", "error", err)
		}
	})
	logger.Infow("serving", "addr", listener.Addr().String(), "websocket", ws != nil)

	return listener.Addr(), func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}, nil
}
