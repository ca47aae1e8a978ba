package main

import (
	"context"
	"flag"
	"math"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tickflow/internal/api"
	"tickflow/internal/config"
	"tickflow/internal/console"
	"tickflow/internal/faults"
	"tickflow/internal/handlers"
	"tickflow/internal/journal"
	"tickflow/internal/scheduler"
	"tickflow/internal/watchdog"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "YAML config path")
		addr     = flag.String("addr", "", "HTTP bind address (overrides config)")
		dbPath   = flag.String("db", "", "journal SQLite path (overrides config)")
		logLevel = flag.String("log-level", "", "log level (overrides config)")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	fileCfg := cfg
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Journal.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	lvl, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatal().Err(err).Msg("log level")
	}
	zerolog.SetGlobalLevel(lvl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := faults.New()
	notifier := faults.NewLogNotifier(&log.Logger, cfg.Faults.RatePerSec)
	reg.Notifier = notifier

	if *cfgPath != "" {
		go func() {
			err := config.Watch(ctx, *cfgPath, fileCfg, func(prev, next config.Config) {
				if !config.Reloadable(prev, next) {
					log.Warn().Msg("config changed beyond log and fault settings; restart to apply")
				}
				if lvl, err := zerolog.ParseLevel(next.Log.Level); err == nil {
					zerolog.SetGlobalLevel(lvl)
				}
				notifier.SetRate(next.Faults.RatePerSec)
				log.Info().Str("level", next.Log.Level).Int("fault_rate", next.Faults.RatePerSec).Msg("config reloaded")
			})
			if err != nil {
				log.Warn().Err(err).Msg("config watch disabled")
			}
		}()
	}

	schedCfg := scheduler.Config{
		Capacity:   cfg.Capacity,
		TickPeriod: cfg.Tick,
		Faults:     reg,
	}
	var dogs watchdog.Multi
	if cfg.Watchdog.Enabled {
		dogs = append(dogs, watchdog.New(cfg.Watchdog.Timeout, func() {
			log.Fatal().Dur("timeout", cfg.Watchdog.Timeout).Msg("watchdog expired: main loop stalled")
		}))
	}
	if cfg.Watchdog.Systemd {
		dogs = append(dogs, watchdog.NewSystemd())
	}
	if len(dogs) > 0 {
		schedCfg.Watchdog = dogs
	}

	var (
		store    *journal.Store
		recorder *journal.Recorder
		flushed  = make(chan struct{})
	)
	if cfg.Journal.Path != "" {
		db, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("open journal")
		}
		defer db.Close()
		store = journal.NewStore(db)
		recorder = journal.NewRecorder(store, cfg.Journal.Buffer, nil)
		recorder.Keep = cfg.Journal.Keep
		schedCfg.Observer = recorder
		go func() {
			defer close(flushed)
			recorder.Run(ctx)
		}()
	} else {
		close(flushed)
	}

	sched := scheduler.New(schedCfg)

	// tasks registered before Init keep their delays relative to tick 0.
	// config.Load has already run Validate, so ParseEvery cannot fail below.
	registry := handlers.Default(ctx, nil)
	for _, def := range cfg.Tasks {
		cb, err := registry.Callback(def)
		if err != nil {
			log.Fatal().Err(err).Msg("build task")
		}
		every, _ := scheduler.ParseEvery(def.Every, cfg.Tick)
		delay, _ := scheduler.ParseEvery(def.Delay, cfg.Tick)
		if err := sched.Add(cb, nil, def.Priority, every, delay, def.ID); err != nil {
			log.Fatal().Err(err).Str("task", def.Name).Msg("add task")
		}
		log.Info().Stringer("task", def).Uint32("every", every).Uint32("delay", delay).Msg("task registered")
	}

	if cfg.Faults.NotifyEvery != "" {
		every, _ := scheduler.ParseEvery(cfg.Faults.NotifyEvery, cfg.Tick)
		if err := sched.Add(func(any) { reg.Notify() }, nil, 1, every, every, config.MonitorTaskID); err != nil {
			log.Fatal().Err(err).Msg("add fault monitor")
		}
	}

	var port *console.Port
	if cfg.Console.Enabled {
		port = console.NewPort(console.PortConfig{
			Size:   cfg.Console.BufferSize,
			Echo:   cfg.Console.Echo,
			TX:     os.Stdout,
			Faults: reg,
		})
		sampler := console.NewSampler(console.ProbeFunc(heapKiB), port, nil)
		every, _ := scheduler.ParseEvery(cfg.Console.SampleEvery, cfg.Tick)
		parser := console.NewParser(console.ParserConfig{
			Port:     port,
			Tasks:    sched,
			Sampler:  sampler.Run,
			Every:    every,
			Priority: cfg.Console.SamplePriority,
			ID:       cfg.Console.SampleID,
		})
		if err := sched.Add(parser.Run, nil, math.MaxUint8, 1, 0, config.ParserTaskID); err != nil {
			log.Fatal().Err(err).Msg("add console parser")
		}
		go func() {
			if err := port.Listen(ctx, os.Stdin); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("console listener")
			}
		}()
	}

	sched.Init()
	defer sched.Close()

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.NewServer(api.Deps{
		Scheduler: sched,
		Faults:    reg,
		Console:   port,
		Journal:   store,
		Recorder:  recorder,
		Debug:     cfg.HTTP.Debug,
	})}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Info().Msg("shutting down")
		cancel()
	}()

	// the main loop owns this goroutine
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("scheduler stopped")
	}

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	<-flushed
}

// heapKiB is the sampled value: live heap size in KiB.
func heapKiB() (uint32, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return uint32(min(m.HeapAlloc>>10, math.MaxUint32)), nil
}
