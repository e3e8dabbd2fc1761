// invsentry-server hosts spec.md §6's four-operation HTTP surface over one
// or more (provider, scope) core.Core instances, built from a YAML config
// file with live reload. Grounded on the teacher's cmd/main.go flag-based
// bootstrap, adapted to this module's providers/registry wiring.
//
// @title        invsentry inventory API
// @version      1.0
// @description  Read-only multi-provider virtualization inventory aggregator.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"github.com/vexxhost/invsentry/api"
	"github.com/vexxhost/invsentry/common/logging"
	"github.com/vexxhost/invsentry/config"
	"github.com/vexxhost/invsentry/core"
	"github.com/vexxhost/invsentry/database"
	"github.com/vexxhost/invsentry/joblog"
	"github.com/vexxhost/invsentry/providers"
	"github.com/vexxhost/invsentry/providers/hyperv"
	"github.com/vexxhost/invsentry/providers/vmware"
)

func main() {
	port := flag.Int("port", 8082, "HTTP listen port")
	debug := flag.Bool("debug", false, "enable debug logging and gin debug mode")
	configPath := flag.String("config", "/etc/invsentry/config.yaml", "path to provider config YAML")
	dbHost := flag.String("db-host", "localhost", "MariaDB host")
	dbPort := flag.Int("db-port", 3306, "MariaDB port")
	dbName := flag.String("db-name", "invsentry", "MariaDB database name")
	dbUser := flag.String("db-user", "invsentry", "MariaDB username")
	dbPass := flag.String("db-pass", "", "MariaDB password")
	flag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	cfgMgr, err := config.NewManager(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load provider config")
	}
	if err := cfgMgr.Watch(nil); err != nil {
		log.WithError(err).Warn("config hot-reload watch failed to start, continuing with static config")
	}

	conn, err := database.NewMariaDBConnection(&database.MariaDBConfig{
		Host: *dbHost, Port: *dbPort, Database: *dbName, Username: *dbUser, Password: *dbPass,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer conn.Close()

	repo := database.NewSnapshotRepository(conn)
	if err := repo.AutoMigrate(); err != nil {
		log.WithError(err).Fatal("failed to migrate snapshot schema")
	}
	codec := database.JSONSnapshotCodec{}

	sqlDB, err := conn.GetGormDB().DB()
	if err != nil {
		log.WithError(err).Fatal("failed to obtain raw sql.DB handle for joblog")
	}
	tracker := joblog.New(sqlDB)
	registry := buildProviderRegistry()

	sqlxDB := sqlx.NewDb(sqlDB, "mysql")
	janitor := database.NewJanitor(database.NewStaleSnapshotLister(sqlxDB), 24*time.Hour)
	if err := janitor.Start("0 * * * *"); err != nil {
		log.WithError(err).Warn("janitor failed to start, stale-snapshot sweeps disabled")
	}
	defer janitor.Stop()

	health := core.NewHostHealthStore(nil)
	locks := core.NewHostLockRegistry()

	var cores []*core.Core
	for name, pcfg := range cfgMgr.Current().Providers {
		if !pcfg.Enabled || !pcfg.Configured() {
			log.WithField("provider", name).Info("provider disabled or unconfigured, skipping")
			continue
		}

		p, err := providers.ParseProvider(name)
		if err != nil {
			log.WithError(err).Warn("ignoring unknown provider in config")
			continue
		}

		vmsAdapter, _, err := registry.Build(p, pcfg)
		if err != nil {
			log.WithError(err).WithField("provider", name).Warn("no adapter wired for provider, skipping")
			continue
		}

		c := core.NewCore(core.Deps{
			Provider:   name,
			Scope:      core.ScopeVMS,
			Level:      core.LevelSummary,
			Configured: hyperVHostNames(pcfg),
			Enabled:    func() bool { return pcfg.Enabled },
			Adapter:    vmsAdapter,
			Health:     health,
			Locks:      locks,
			Bridge:     repo,
			Codec:      codec,
			PLogger:    logging.NewPersistenceLogger(log.Fields{"provider": name}),
			Audit:      joblog.NewAuditBridge(tracker, "inventory-snapshot-"+name),
			Logger:     logging.NewCoreLogger(log.Fields{"provider": name, "scope": "vms"}),
			Resolver:   resolverForProvider(name),
			Config:     pcfg.ToRunnerConfig(),
		})
		cores = append(cores, c)
	}

	ctx, cancel := context.WithCancel(context.Background())
	for _, c := range cores {
		c.Start(ctx)
	}

	facade := api.NewRegistry(cores...)
	router := api.NewRouter(facade, *debug)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: router.Engine(),
	}

	go func() {
		log.WithField("port", *port).Info("invsentry-server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	waitForShutdown(cancel, srv, tracker)
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server, tracker *joblog.Tracker) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutdown signal received, draining")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown did not complete cleanly")
	}
	if err := tracker.Close(); err != nil {
		log.WithError(err).Warn("joblog tracker did not flush cleanly")
	}
}

// buildProviderRegistry wires adapter factories for the providers this
// module can construct a real or seam-only implementation for. vmware gets
// a live govmomi-backed factory; hyperv's factory always passes a nil
// HostTransport (no WinRM client is wired in this module), so its Collect
// returns ErrKindOther per that package's documented contract. ovirt/azure/cedia stay unregistered here until a
// concrete EngineClient/http.Client wiring is chosen for them.
func buildProviderRegistry() *providers.Registry {
	r := providers.NewRegistry()

	r.Register(providers.VMware, func(cfg any) (core.Adapter, core.Adapter, error) {
		pcfg, ok := cfg.(config.ProviderConfig)
		if !ok || len(pcfg.Hosts) == 0 {
			return nil, nil, fmt.Errorf("vmware: missing host config")
		}
		vcConfigs := make(map[string]vmware.Config, len(pcfg.Hosts))
		for _, h := range pcfg.Hosts {
			vcConfigs[strings.ToLower(h.Host)] = vmware.Config{Host: h.Host, Username: h.Username, Password: h.Password}
		}
		return vmware.NewAdapter(vcConfigs), vmware.NewHostAdapter(vcConfigs), nil
	})

	r.Register(providers.HyperV, func(cfg any) (core.Adapter, core.Adapter, error) {
		pcfg, ok := cfg.(config.ProviderConfig)
		if !ok {
			return nil, nil, fmt.Errorf("hyperv: invalid config")
		}
		creds := make(map[string]hyperv.RemoteCreds)
		for _, rc := range pcfg.HyperVRemoteCreds() {
			creds[rc.Host] = rc
		}
		adapter := hyperv.NewAdapter(nil, creds)
		return adapter, adapter, nil
	})

	return r
}

// resolverForProvider gives Hyper-V a HyperVHostsResolver and every other
// provider the static config-driven host list. Nothing records VMS host
// lists into the Hyper-V resolver and only VMS-scope cores are built here,
// so in this server it serves the configured list.
func resolverForProvider(name string) core.WarmupHostsResolver {
	if name == "hyperv" {
		return core.NewHyperVHostsResolver()
	}
	return core.StaticHostsResolver
}

func hyperVHostNames(pcfg config.ProviderConfig) []string {
	names := make([]string, 0, len(pcfg.Hosts))
	for _, h := range pcfg.Hosts {
		names = append(names, h.Host)
	}
	return names
}
