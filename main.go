package main

import (
	"FetchVault/config"
	"FetchVault/internal/repo"
	"FetchVault/internal/storage"
	"FetchVault/router"
)

// main initializes services and starts the HTTP server.
func main() {
	config.InitConfig()
	repo.InitMysql()
	repo.InitRedis()
	if config.AppConfig.ArchiveEnable {
		storage.InitMinio()
	}

	router := router.InitRouter()

	router.Run(":8000")
}
