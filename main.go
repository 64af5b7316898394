package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/creasty/defaults"
	"github.com/gin-gonic/gin"

	"github.com/flowforge/flowforge/engine"
	"github.com/flowforge/flowforge/expreval"
	"github.com/flowforge/flowforge/flow"
	"github.com/flowforge/flowforge/loader"
	"github.com/flowforge/flowforge/server"
	"github.com/flowforge/flowforge/store"
	"github.com/flowforge/flowforge/tasks"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	registry := engine.NewRegistry()
	evaluator := expreval.New()

	var httpCfg tasks.HTTPConfig
	if err := defaults.Set(&httpCfg); err != nil {
		log.Fatalf("Error building HTTP task config: %v", err)
	}
	registry.RegisterTask("http.request", tasks.NewHTTPTask(httpCfg))
	registry.RegisterTask("script", tasks.NewScriptTask())
	registry.RegisterTask("script.condition", tasks.NewScriptConditionTask())
	registry.RegisterTask("timer", tasks.NewTimerTask())
	registry.RegisterTask("assign", tasks.NewAssignTask(evaluator))

	// The memory store is the default backend; POSTGRES_URL switches result
	// persistence to the shared postgres pool alongside the database tasks.
	var storage engine.Storage
	var results server.ResultStore
	if dsn := os.Getenv("POSTGRES_URL"); dsn != "" {
		pgCfg := tasks.PostgresConfig{ConnectionString: dsn}
		if err := defaults.Set(&pgCfg); err != nil {
			log.Fatalf("Error building postgres config: %v", err)
		}
		pg, err := tasks.NewPostgres(pgCfg)
		if err != nil {
			log.Fatalf("Error connecting to postgres: %v", err)
		}
		defer pg.Close()
		registry.RegisterTask("postgres.get", pg.Get())
		registry.RegisterTask("postgres.exec", pg.Exec())

		pgStore, err := store.NewPostgresStore(pg.DB())
		if err != nil {
			log.Fatalf("Error initializing postgres store: %v", err)
		}
		storage = pgStore
		results = pgStore
	} else {
		mem := store.NewMemoryStore()
		storage = mem
		results = mem
	}

	eng, err := engine.New(registry, evaluator,
		engine.WithLogger(logger),
		engine.WithStorage(storage),
		engine.WithMonitor(engine.LogMonitor{Log: logger}),
	)
	if err != nil {
		log.Fatalf("Error initializing engine: %v", err)
	}
	defer eng.Shutdown()

	eng.Dispatcher().BindDefault(flow.StepTypeScript, "script")
	eng.Dispatcher().BindDefault(flow.StepTypeScriptConditional, "script.condition")
	eng.Dispatcher().BindDefault(flow.StepTypeTimer, "timer")

	flowsDir := os.Getenv("FLOWS_DIR")
	if flowsDir == "" {
		flowsDir = "flows"
	}
	defs, err := loader.LoadDir(flowsDir)
	if err != nil {
		log.Fatalf("Error loading flows: %v", err)
	}
	for _, def := range defs {
		if _, err := eng.Register(def); err != nil {
			log.Fatalf("Error registering flow %s: %v", def.ID, err)
		}
	}

	g := gin.Default()
	server.New(eng, results, logger).Routes(g)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Run(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Error running server: %v", err)
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	}
}
