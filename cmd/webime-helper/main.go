// webime-helper bridges the input method framework to a web keyboard.
//
// The helper owns a bus name on the session bus, loads the rendering
// container module on request and negotiates a protocol channel with the
// keyboard content once it has loaded:
//
//	webime-helper                   Serve the configured keyboard
//	webime-helper -ime <id> -init   Serve <id> and create its view at once
//	webime-helper -list             List installed keyboard packages
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"webime/internal/channel"
	"webime/internal/config"
	"webime/internal/container"
	"webime/internal/handshake"
	"webime/internal/health"
	"webime/internal/hostbus"
	"webime/internal/ime"
	"webime/internal/logging"
	"webime/internal/registry"
	"webime/internal/session"
)

const loopDepth = 64

func main() {
	configPath := flag.String("config", config.ConfigPath(), "Configuration file")
	imeID := flag.String("ime", "", "Keyboard package id (overrides helper.ime_id)")
	initView := flag.Bool("init", false, "Create the keyboard view at startup")
	list := flag.Bool("list", false, "List installed keyboard packages and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if err := run(*configPath, *imeID, *initView, *list, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "webime-helper: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, imeID string, initView, list, debug bool) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if imeID != "" {
		cfg.Helper.IMEID = imeID
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logCfg, err := loggingConfig(cfg.Logging, debug)
	if err != nil {
		return err
	}
	logs, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logs.Close()
	log := logs.WithComponent("helper")

	store, err := registry.OpenStore(cfg.Registry.DatabasePath)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer store.Close()
	scanner, err := registry.NewScanner(cfg.Registry.Category, cfg.Registry.PackageType)
	if err != nil {
		return err
	}
	reg := registry.New(cfg.Registry.PackagesDir, scanner, store, logs.WithComponent("registry"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := reg.Refresh(ctx); err != nil {
		log.Warn("initial registry scan", "error", err)
	}
	if list {
		return listPackages(reg)
	}
	if cfg.Helper.IMEID == "" {
		return fmt.Errorf("no keyboard package configured (set helper.ime_id or -ime)")
	}

	if !debug {
		loader.OnChange(func(c *config.Config) {
			level, err := logging.ParseLevel(c.Logging.Level)
			if err != nil {
				log.Warn("ignoring log level", "error", err)
				return
			}
			logs.SetLevel(level)
			log.Info("log level changed", "level", logging.LevelString(level))
		})
	}
	loader.SetLogger(logs.WithComponent("config"))
	if err := loader.Watch(); err != nil {
		log.Warn("config hot reload disabled", "error", err)
	}
	defer loader.Close()

	bus, err := hostbus.Connect(hostbus.Config{
		BusName:    cfg.Host.BusName,
		ObjectPath: cfg.Host.ObjectPath,
	}, logs.WithComponent("hostbus"))
	if err != nil {
		return err
	}
	defer bus.Close()

	loop := session.NewLoop(loopDepth, logs.WithComponent("loop"))
	modules := container.NewLoader(cfg.Container.PluginPath, container.PluginOpener{}, logs.WithComponent("container"))
	runtime := container.NewRuntime(modules, loop, logs.WithComponent("container"))
	keys := handshake.NewMagicKeyManager(cfg.Handshake.MagicKeyLength, cfg.Handshake.MagicKeyAlphabet)

	channelLog := logs.WithComponent("channel")
	newChannel := func(kind channel.Kind, sink channel.Sink) channel.Channel {
		switch kind {
		case channel.KindWebSocket:
			return channel.NewWebSocket(channel.WebSocketConfig{
				Addr:            cfg.WebSocket.ListenAddr,
				Subprotocol:     cfg.WebSocket.Subprotocol,
				KeyEventTimeout: cfg.WebSocket.KeyEventTimeout(),
				ReplyTimeout:    cfg.WebSocket.ReplyTimeout(),
				WriteTimeout:    cfg.WebSocket.WriteTimeout(),
			}, keys, sink, loop, channelLog)
		case channel.KindDirect:
			return channel.NewDirect(runtime, sink, loop,
				cfg.WebSocket.KeyEventTimeout(), cfg.WebSocket.ReplyTimeout(), channelLog)
		}
		return nil
	}

	agent := session.NewAgent(cfg.Helper.IMEID, session.Config{
		KeyboardID:        cfg.Helper.KeyboardID,
		DefaultKeyboardID: cfg.Helper.DefaultKeyboardID,
		PortraitWidth:     cfg.Keyboard.PortraitWidth,
		PortraitHeight:    cfg.Keyboard.PortraitHeight,
		LandscapeWidth:    cfg.Keyboard.LandscapeWidth,
		LandscapeHeight:   cfg.Keyboard.LandscapeHeight,
	}, session.Deps{
		Loop:    loop,
		Host:    bus.Host(),
		Surface: bus.Surface(),
		View:    runtime,
		Catalog: reg,
		Keys:    keys,
		Handshake: handshake.Config{
			PrepareCommand:   cfg.Handshake.PrepareCommand,
			ActivateCommand:  cfg.Handshake.ActivateCommand,
			MaxCommandLength: cfg.Handshake.MaxCommandLength,
			VersionDelimiter: cfg.Handshake.VersionDelimiter,
			VersionTokens:    cfg.Handshake.VersionTokens,
			Kinds:            channelKinds(cfg.Handshake.DirectMajor),
		},
		Channels: newChannel,
		Shutdown: cancel,
		Logger:   logs.WithComponent("session"),
	})

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	checker := newChecker(cfg, reg, agent)
	if err := bus.Export(hostbus.NewService(agent, checker, logs.WithComponent("hostbus"))); err != nil {
		return err
	}
	checker.SetReady(true)

	var watcher *registry.Watcher
	if cfg.Registry.Watch {
		watcher, err = startWatcher(ctx, reg, agent, cfg.Registry.DebounceMs, logs.WithComponent("registry"))
		if err != nil {
			log.Warn("package watch disabled", "error", err)
		}
	}

	if initView {
		if err := agent.Init(); err != nil {
			log.Warn("initial view", "error", err)
		}
	}

	log.Info("helper started", "ime", cfg.Helper.IMEID, "bus", cfg.Host.BusName, "config", loader.Path())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM, unix.SIGHUP, unix.SIGUSR1, unix.SIGUSR2)
	defer signal.Stop(sigCh)

	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case sig := <-sigCh:
			s, _ := sig.(syscall.Signal)
			log.Info("signal received", "signal", sig.String())
			if err := agent.Signal(s); err != nil {
				log.Debug("signal not forwarded", "error", err)
			}
			if s == unix.SIGINT || s == unix.SIGTERM {
				if err := agent.Exit(ime.NoContext); err != nil {
					log.Debug("exit", "error", err)
				}
				cancel()
			}
		}
	}

	cancel()
	select {
	case <-loopDone:
	case <-time.After(2 * time.Second):
		log.Warn("session loop did not stop in time")
	}
	if watcher != nil {
		watcher.Wait()
	}
	log.Info("helper stopped")
	return nil
}

func newChecker(cfg *config.Config, reg *registry.Registry, agent *session.Agent) *health.Checker {
	c := health.NewChecker()
	c.RegisterFunc("registry", true, health.ErrorCheck("package index", func(ctx context.Context) error {
		if err := reg.Ping(ctx); err != nil {
			return err
		}
		_, err := reg.Lookup(cfg.Helper.IMEID)
		return err
	}))
	c.RegisterFunc("session", true, health.ErrorCheck("control loop", func(context.Context) error {
		_, err := agent.State()
		return err
	}))
	c.RegisterFunc("container", false, health.ErrorCheck("container module", func(context.Context) error {
		_, err := os.Stat(cfg.Container.PluginPath)
		return err
	}))
	c.RegisterFunc("channel", false, func(context.Context) health.CheckResult {
		stats, version, err := agent.Negotiation()
		if err != nil {
			return health.CheckResult{Status: health.StatusUnhealthy, Error: err.Error()}
		}
		details := map[string]any{
			"attempts":    stats.Attempts,
			"negotiated":  stats.Negotiated,
			"failed":      stats.Failed,
			"activations": stats.Activations,
			"version":     version,
		}
		if stats.Negotiated == 0 {
			return health.CheckResult{Status: health.StatusDegraded, Message: "no channel negotiated", Details: details}
		}
		return health.CheckResult{Status: health.StatusHealthy, Details: details}
	})
	return c
}

func channelKinds(directMajor int) map[int]channel.Kind {
	if directMajor == 0 {
		return nil
	}
	return handshake.KindTable(map[int]channel.Kind{directMajor: channel.KindDirect})
}

func loggingConfig(c config.LoggingConfig, debug bool) (*logging.Config, error) {
	lc := logging.DefaultConfig()
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	if debug {
		level = logging.LevelDebug
	}
	format, err := logging.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	lc.Format = format
	lc.Output = c.Output
	lc.FilePath = c.FilePath
	lc.MaxSize = int64(c.MaxSizeMB)
	lc.MaxBackups = c.MaxBackups
	lc.Compress = c.Compress
	lc.Component = "webime-helper"
	return lc, nil
}

func startWatcher(ctx context.Context, reg *registry.Registry, agent *session.Agent, debounceMs int, log *slog.Logger) (*registry.Watcher, error) {
	w, err := registry.NewWatcher(reg, time.Duration(debounceMs)*time.Millisecond, log)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	go func() {
		for c := range w.Changes() {
			log.Info("package change", "id", c.ID, "change", c.Type.String())
			agent.PackageChanged(c)
		}
	}()
	return w, nil
}

func listPackages(reg *registry.Registry) error {
	pkgs, err := reg.List()
	if err != nil {
		return err
	}
	for _, d := range pkgs {
		fmt.Printf("%s\t%s\t%s\t%s\n", d.ID, d.Language, d.Name, d.EntryURL)
	}
	return nil
}
