package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/panelworks/cutflow/internal/adapters"
	"github.com/panelworks/cutflow/internal/config"
	"github.com/panelworks/cutflow/internal/models"
	"github.com/panelworks/cutflow/internal/orchestrator"
	"github.com/panelworks/cutflow/internal/runner"
	"github.com/panelworks/cutflow/internal/storage/postgres"
	"github.com/panelworks/cutflow/internal/template"
)

func main() {
	log.Println("Starting Runner...")

	ctx := context.Background()

	dbCfg, err := postgres.LoadConfigFromEnv(ctx)
	if err != nil {
		log.Fatal("Failed to load DB config:", err)
	}

	paths, err := config.LoadPathsFromEnv(ctx)
	if err != nil {
		log.Fatal("Failed to load paths config:", err)
	}

	rules, err := config.LoadRules(paths.RulesFile)
	if err != nil {
		log.Fatal("Failed to load rules:", err)
	}

	db, err := postgres.ConnectDB(dbCfg)
	if err != nil {
		log.Fatal("Connection failed:", err)
	}

	if err := db.AutoMigrate(&models.Job{}, &models.AuditEvent{}, &models.Customer{}); err != nil {
		log.Fatal("Migration failed:", err)
	}
	log.Println("SUCCESS! Database connected")

	store := postgres.NewJobStore(db)
	pipeline := orchestrator.NewPipeline(
		store,
		rules,
		template.NewWriter(paths.TemplatePath, paths.ImportDir),
		adapters.NewTrigger(paths.OptiExecutable),
		adapters.NewCollector(paths.ExportDir),
		adapters.NewDelivery(paths.DropRoot),
	)

	r := runner.New(store, pipeline)
	r.Start(ctx)
	log.Println("Runner active. Press Ctrl+C to stop.")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	r.Stop()
	log.Println("Shutdown complete.")
}
