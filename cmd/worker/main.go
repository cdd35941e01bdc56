package main

import (
	"FetchVault/config"
	"FetchVault/internal/backend"
	"FetchVault/internal/downloader"
	"FetchVault/internal/provider"
	"FetchVault/internal/repo"
	"FetchVault/internal/resolver"
	"FetchVault/internal/storage"
	"FetchVault/internal/worker"
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	config.InitConfig()
	repo.InitMysql()
	repo.InitRedis()
	if config.AppConfig.ArchiveEnable {
		storage.InitMinio()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prov := provider.NewAllDebrid()
	back := backend.NewAria2()

	worker.ResumeQueued(ctx)
	worker.ReclaimStale(ctx)

	go worker.RunScheduler(ctx, downloader.New(prov, back))

	log.Println("resolve worker started")
	if err := worker.RunResolveWorker(ctx, resolver.New(prov)); err != nil {
		log.Fatalf("resolve worker stopped: %v", err)
	}
}
