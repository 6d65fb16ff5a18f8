package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/panelworks/cutflow/internal/api"
	"github.com/panelworks/cutflow/internal/config"
	"github.com/panelworks/cutflow/internal/models"
	"github.com/panelworks/cutflow/internal/orchestrator"
	"github.com/panelworks/cutflow/internal/storage/postgres"
	"github.com/panelworks/cutflow/internal/telemetry"
	"github.com/panelworks/cutflow/middleware"
)

func main() {
	log.Println("Starting API...")

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
	service := orchestrator.NewService(store, rules)

	router := gin.Default()
	router.Use(middleware.ErrorHandler())
	api.NewHandler(service).Register(router)
	router.GET("/metrics", gin.WrapH(telemetry.Handler()))

	addr := os.Getenv("API_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	log.Printf("API listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatal("Server failed:", err)
	}
}
