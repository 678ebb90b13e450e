package repository

import (
	"github.com/creditrail/creditrail/internal/domain/allocation"
	"github.com/creditrail/creditrail/internal/domain/appregistry"
	"github.com/creditrail/creditrail/internal/domain/credit"
	"github.com/creditrail/creditrail/internal/domain/entity"
	"github.com/creditrail/creditrail/internal/domain/opconfig"
	"github.com/creditrail/creditrail/internal/domain/purchase"
	"github.com/creditrail/creditrail/internal/logger"
	"github.com/creditrail/creditrail/internal/postgres"
	pgrepo "github.com/creditrail/creditrail/internal/repository/postgres"
)

func NewCreditRepository(db postgres.IClient, logger *logger.Logger) credit.Repository {
	return pgrepo.NewCreditRepository(db, logger)
}

func NewEntityRepository(db postgres.IClient, logger *logger.Logger) entity.Repository {
	return pgrepo.NewEntityRepository(db, logger)
}

func NewPurchaseRepository(db postgres.IClient, logger *logger.Logger) purchase.Repository {
	return pgrepo.NewPurchaseRepository(db, logger)
}

func NewAllocationRepository(db postgres.IClient, logger *logger.Logger) allocation.Repository {
	return pgrepo.NewAllocationRepository(db, logger)
}

func NewOperationConfigRepository(db postgres.IClient, logger *logger.Logger) opconfig.Repository {
	return pgrepo.NewOperationConfigRepository(db, logger)
}

func NewAppRegistryRepository(db postgres.IClient, logger *logger.Logger) appregistry.Repository {
	return pgrepo.NewAppRegistryRepository(db, logger)
}
