package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/termsync/client/internal/cache"
	"github.com/termsync/client/internal/config"
	"github.com/termsync/client/internal/discovery"
	"github.com/termsync/client/internal/dispatch"
	"github.com/termsync/client/internal/errors"
	"github.com/termsync/client/internal/ptystream"
	"github.com/termsync/client/internal/sdata"
	"github.com/termsync/client/internal/store"
	"github.com/termsync/client/internal/transport"
	"github.com/termsync/client/internal/update"
)

// app bundles the wired client components.
type app struct {
	cfg        *config.Config
	model      *store.Model
	router     *ptystream.Router
	engine     *update.Engine
	dispatcher *dispatch.Dispatcher
	channel    *transport.Channel
	snapshots  *cache.SnapshotCache
}

// loadConfig loads the config file and applies flag overrides.
func loadConfig(configPath, host, authKey string, debug bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if host != "" {
		cfg.HostAddr = host
	}
	if authKey != "" {
		cfg.AuthKey = authKey
	}
	if debug {
		cfg.Debug = true
	}
	return cfg, nil
}

// buildApp wires the model, PTY router, merge engine, dispatcher, snapshot
// cache and transport channel together.
func buildApp(ctx context.Context, cfg *config.Config, stderr io.Writer) (*app, error) {
	if cfg.HostAddr == "" {
		if !cfg.MdnsEnabled {
			return nil, errors.New(errors.CodeDiscoveryNoHost,
				"no host configured (set host_addr or enable mdns)")
		}
		host, err := discovery.FindFirst(ctx)
		if err != nil {
			return nil, err
		}
		cfg.HostAddr = fmt.Sprintf("%s:%d", host.Addr, host.Port)
		log.Printf("main: discovered host %q at %s", host.Name, cfg.HostAddr)
	}

	model := store.NewModel()
	model.SetDebug(cfg.Debug)

	router := ptystream.NewRouter()
	router.SetDebug(cfg.Debug)
	router.OnDrop = model.CountPtyDrop
	model.OnCmdDone = router.FinalizeCmd

	engine := update.NewEngine(model, router)

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		BaseURL: cfg.HTTPBaseURL(),
		AuthKey: cfg.AuthKey,
	}, model, engine)

	channel := transport.NewChannel(transport.Config{
		BaseURL:  cfg.WSBaseURL(),
		ClientId: cfg.ClientId,
		AuthKey:  cfg.AuthKey,
	}, engine)

	// Active-screen changes move the push subscription and refetch the new
	// screen's lines.
	engine.OnActiveScreenChange = func(sessionId, screenId string) {
		if sessionId == "" || screenId == "" {
			return
		}
		if err := channel.WatchScreen(sessionId, screenId); err != nil {
			log.Printf("main: watchscreen failed: %v", err)
		}
		go func() {
			if err := dispatcher.FetchScreenLines(ctx, screenId); err != nil {
				log.Printf("main: screen lines fetch failed: %v", err)
			}
		}()
	}

	a := &app{
		cfg:        cfg,
		model:      model,
		router:     router,
		engine:     engine,
		dispatcher: dispatcher,
		channel:    channel,
	}

	// The snapshot cache is best-effort: a broken cache degrades to a
	// cold start, never to a failed start.
	snapshots, err := cache.Open(cfg.CacheDB)
	if err != nil {
		fmt.Fprintf(stderr, "warning: snapshot cache unavailable: %v\n", err)
	} else {
		a.snapshots = snapshots
		engine.OnConnect = func(cu *sdata.ConnectUpdate) {
			if err := snapshots.SaveConnect(cu); err != nil {
				log.Printf("main: caching connect snapshot failed: %v", err)
			}
		}
		engine.OnScreenLines = func(sld *sdata.ScreenLinesData) {
			if err := snapshots.SaveScreenLines(sld); err != nil {
				log.Printf("main: caching screen lines failed: %v", err)
			}
		}
	}
	return a, nil
}

// seedFromCache applies the last persisted snapshots so the UI has
// stale-but-useful state while the host is unreachable. Everything applied
// here is superseded by the first live resync.
func (a *app) seedFromCache() {
	if a.snapshots == nil {
		return
	}
	if cd, err := a.snapshots.LoadClientData(); err == nil {
		a.model.Lock()
		a.model.SetClientData(cd)
		a.model.Unlock()
	}
	if cu, err := a.snapshots.LoadConnect(); err == nil {
		a.engine.ApplyUpdate(sdata.ModelUpdate{cu})
		log.Printf("main: seeded %d sessions, %d screens from cache",
			len(cu.Sessions), len(cu.Screens))
	}
}

func (a *app) close() {
	a.channel.Close()
	if a.snapshots != nil {
		a.snapshots.Close()
	}
}

func runRun(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file path")
	host := fs.String("host", "", "Host address (host:port)")
	authKey := fs.String("authkey", "", "Auth key")
	debug := fs.Bool("debug", false, "Verbose logging")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath, *host, *authKey, *debug)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close()

	a.channel.Status.Subscribe(func(state string) {
		log.Printf("main: channel %s", state)
	})
	a.model.ActiveSessionId.Subscribe(func(id string) {
		log.Printf("main: active session %s", id)
	})
	a.model.InfoMsg.Subscribe(func(msg *sdata.InfoMsg) {
		if msg == nil {
			return
		}
		if msg.InfoError != "" {
			fmt.Fprintf(stderr, "[%s] %s\n", msg.InfoTitle, msg.InfoError)
		} else {
			fmt.Fprintf(stdout, "[%s] %s\n", msg.InfoTitle, msg.InfoMsg)
		}
	})

	a.seedFromCache()

	channelErr := make(chan error, 1)
	go func() { channelErr <- a.channel.Run() }()

	// Cold-start gate: nothing else is meaningful until client data exists.
	cd, err := a.dispatcher.BootstrapClientData(ctx)
	if err != nil {
		if ctx.Err() == nil {
			fmt.Fprintf(stderr, "Error: client bootstrap failed: %v\n", err)
			return 1
		}
		return 0
	}
	log.Printf("main: connected as client %s", cd.ClientId)
	if a.snapshots != nil {
		if err := a.snapshots.SaveClientData(cd); err != nil {
			log.Printf("main: caching client data failed: %v", err)
		}
	}

	select {
	case <-ctx.Done():
		fmt.Fprintln(stdout, "Shutting down")
		return 0
	case err := <-channelErr:
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
}

func runExec(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file path")
	host := fs.String("host", "", "Host address (host:port)")
	authKey := fs.String("authkey", "", "Auth key")
	session := fs.String("session", "", "Session id for the command's UI context")
	screen := fs.String("screen", "", "Screen id for the command's UI context")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(stderr, "Usage: termsync exec [options] <metacmd[:subcmd]> [args...]")
		return 1
	}

	cfg, err := loadConfig(*configPath, *host, *authKey, false)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close()

	metaCmd, metaSubCmd := rest[0], ""
	if idx := strings.IndexByte(rest[0], ':'); idx >= 0 {
		metaCmd, metaSubCmd = rest[0][:idx], rest[0][idx+1:]
	}
	pk := &dispatch.FeCommandPacket{
		MetaCmd:     metaCmd,
		MetaSubCmd:  metaSubCmd,
		Args:        rest[1:],
		Interactive: true,
	}
	if *session != "" || *screen != "" {
		pk.UIContext = &dispatch.UIContext{
			SessionId: *session,
			ScreenId:  *screen,
			Build:     Version,
		}
	}

	if err := a.dispatcher.RunCommand(ctx, pk); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if msg := a.model.InfoMsg.Get(); msg != nil && msg.InfoMsg != "" {
		fmt.Fprintln(stdout, msg.InfoMsg)
	} else {
		fmt.Fprintln(stdout, "ok")
	}
	return 0
}
