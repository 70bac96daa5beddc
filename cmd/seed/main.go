package main

import (
	"fmt"
	"log"
	"os"

	"github.com/cybersentinel/sentinel/internal/config"
	"github.com/cybersentinel/sentinel/internal/database"
	"github.com/cybersentinel/sentinel/internal/models"
	"github.com/cybersentinel/sentinel/internal/services"
)

// seed bootstraps the first admin account:
//
//	seed <email> <password> [name]
func main() {
	if len(os.Args) < 3 {
		log.Fatalf("Usage: %s <email> <password> [name]", os.Args[0])
	}
	email, password := os.Args[1], os.Args[2]
	name := "Administrator"
	if len(os.Args) > 3 {
		name = os.Args[3]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&models.AdminUser{}); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	var existing models.AdminUser
	if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
		if err := existing.SetPassword(password); err != nil {
			log.Fatalf("hash password: %v", err)
		}
		existing.Enabled = true
		if err := db.Save(&existing).Error; err != nil {
			log.Fatalf("update admin: %v", err)
		}
		fmt.Printf("updated admin %s\n", email)
		return
	}

	auth := services.NewAuthService(db, cfg.JWTSecret)
	if _, err := auth.Register(email, password, name); err != nil {
		log.Fatalf("create admin: %v", err)
	}
	fmt.Printf("created admin %s\n", email)
}
