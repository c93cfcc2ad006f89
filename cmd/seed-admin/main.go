// seed-admin creates or updates the admin console worker.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
//
// Override the credentials with -login / -password / -name.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/warelogic/counting_backend/config"
	"bitbucket.org/warelogic/counting_backend/models"
	"bitbucket.org/warelogic/counting_backend/utils"
	"gorm.io/gorm"
)

func main() {
	login := flag.String("login", "countingAdmin", "Admin login")
	password := flag.String("password", "C0unt!ngAdmin", "Admin password")
	name := flag.String("name", "Counting Admin", "Admin display name")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	hashed, err := utils.HashPassword(*password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.Worker
	err = db.WithContext(ctx).Model(&models.Worker{}).Where("login = ?", *login).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup worker: %v\n", err)
			os.Exit(1)
		}
		w := models.Worker{
			Login:    *login,
			Name:     *name,
			Password: hashedStr,
			IsActive: utils.NewTrue(),
			Role:     models.WorkerRoleAdmin,
		}
		if err := db.WithContext(ctx).Create(&w).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin worker: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin worker: login=%q (role=ADMIN)\n", *login)
		return
	}

	if err := db.WithContext(ctx).Model(&models.Worker{}).Where("login = ?", *login).Updates(map[string]any{
		"password":  hashedStr,
		"name":      *name,
		"is_active": utils.NewTrue(),
		"role":      models.WorkerRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin worker: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated admin worker: login=%q (role=ADMIN)\n", *login)
}
