// Seed populates a development database with a demo mode, hosts and account.
package main

import (
	"fmt"
	"log"

	"github.com/ezbridge/bridge/internal/config"
	"github.com/ezbridge/bridge/internal/database"
	"github.com/ezbridge/bridge/internal/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.ProxyHost{},
		&models.RewriteRule{},
		&models.BackendState{},
		&models.Account{},
		&models.Session{},
		&models.Notification{},
		&models.NotificationProvider{},
	); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	fmt.Println("database migrated")

	state := models.BackendState{ID: 1}
	if err := db.FirstOrCreate(&state).Error; err != nil {
		log.Fatalf("backend state: %v", err)
	}
	if state.ActiveMode == "" {
		state.ActiveMode = models.ModeCaddy
		state.SetupState = models.SetupConfigured
		if err := db.Save(&state).Error; err != nil {
			log.Fatalf("save backend state: %v", err)
		}
		fmt.Println("backend mode set to caddy")
	}

	hosts := []models.ProxyHost{
		{
			Domain:       "app.localtest.me",
			UpstreamHost: "127.0.0.1",
			UpstreamPort: 3000,
			BackendMode:  models.ModeCaddy,
			Enabled:      true,
			Description:  "Demo web app",
		},
		{
			Domain:           "ws.localtest.me",
			UpstreamHost:     "127.0.0.1",
			UpstreamPort:     3001,
			BackendMode:      models.ModeCaddy,
			WebsocketEnabled: true,
			Enabled:          true,
			Description:      "Demo websocket service",
			Rewrites: []models.RewriteRule{
				{FromPath: "/socket", ToPath: "/ws", Position: 0},
			},
		},
		{
			Domain:       "private.localtest.me",
			UpstreamHost: "127.0.0.1",
			UpstreamPort: 3002,
			BackendMode:  models.ModeCaddy,
			AuthEnabled:  true,
			Enabled:      true,
			Description:  "Demo protected service",
		},
	}
	for _, host := range hosts {
		var count int64
		db.Model(&models.ProxyHost{}).Where("domain = ?", host.Domain).Count(&count)
		if count > 0 {
			continue
		}
		if err := db.Create(&host).Error; err != nil {
			log.Fatalf("seed host %s: %v", host.Domain, err)
		}
		fmt.Printf("seeded host %s\n", host.Domain)
	}

	var accounts int64
	db.Model(&models.Account{}).Count(&accounts)
	if accounts == 0 {
		account := models.Account{Username: "admin"}
		if err := account.SetPassword("changeme123"); err != nil {
			log.Fatalf("hash password: %v", err)
		}
		if err := db.Create(&account).Error; err != nil {
			log.Fatalf("seed account: %v", err)
		}
		fmt.Println("seeded account admin / changeme123")
	}

	fmt.Println("done")
}
