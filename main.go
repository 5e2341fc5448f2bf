package main

import (
	"context"
	"log"
	"os"

	"caddie/models"
	"caddie/web"

	"github.com/rohanthewiz/logger"
)

func main() {
	logLevel := os.Getenv("CADDIE_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger.SetLogLevel(logLevel)

	dbPath := os.Getenv("CADDIE_DB_PATH")
	if dbPath == "" {
		dbPath = "data/caddie.db"
	}
	if err := models.InitDB(dbPath); err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}
	defer models.CloseDB()

	session, err := models.InitSession()
	if err != nil {
		log.Fatal("Failed to initialize device session: ", err)
	}

	cfg, err := models.LoadSyncConfig()
	if err != nil {
		log.Fatal("Failed to load sync config: ", err)
	}

	if cfg.Enabled {
		rc := models.NewRemoteClient(cfg, session)
		monitor := models.NewConnectivityMonitor(rc, cfg.Interval/4)

		engine, err := models.NewSyncEngine(cfg, rc, monitor, session)
		if err != nil {
			log.Fatal("Failed to create sync engine: ", err)
		}

		ctx := context.Background()
		monitor.Start(ctx)
		if err := engine.Start(ctx); err != nil {
			log.Fatal("Failed to start sync engine: ", err)
		}
		defer engine.Stop()
		defer monitor.Stop()
	} else {
		logger.Info("Sync disabled; running local-only")
	}

	address := os.Getenv("CADDIE_LISTEN_ADDR")
	if address == "" {
		address = ":8090"
	}
	srv := web.NewServer(address)
	log.Fatal(web.Run(srv, address))
}
