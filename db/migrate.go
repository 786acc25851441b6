package db

import (
	"fmt"

	"github.com/knapabuse2-cmd/outreach/db/models"
	"gorm.io/gorm"
)

func AutoMigrate(gdb *gorm.DB) error {
	if gdb == nil {
		return fmt.Errorf("nil gorm db")
	}
	return gdb.AutoMigrate(
		&models.Account{},
		&models.Campaign{},
		&models.Target{},
		&models.Dialogue{},
		&models.DialogueMessage{},
	)
}
