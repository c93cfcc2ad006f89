package models

import (
	"log"

	"bitbucket.org/warelogic/counting_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&QueueItem{},
		&StockSnapshot{},
		&Count{},
		&Divergence{},
		&Worker{},
		&Configuration{},
		&JobLog{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
