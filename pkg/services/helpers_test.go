package services

import (
	"github.com/google/uuid"

	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

func testPostgresDB() *models.LocalDatabase {
	return &models.LocalDatabase{
		ID:   uuid.New(),
		Name: "warehouse",
		Type: models.EngineTypePostgreSQL,
		URL:  "jdbc:postgresql://db.internal:5432/warehouse",
	}
}
