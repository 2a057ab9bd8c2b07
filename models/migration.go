package models

import (
	"log"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
)

func MigrateTable() {
	db := config.GetDB()
	if db == nil {
		log.Println("audit database not configured; skipping migrations")
		return
	}

	err := db.AutoMigrate(
		&AuditEntry{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
