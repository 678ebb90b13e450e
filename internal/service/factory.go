package service

import (
	"github.com/creditrail/creditrail/internal/config"
	"github.com/creditrail/creditrail/internal/domain/allocation"
	"github.com/creditrail/creditrail/internal/domain/appregistry"
	"github.com/creditrail/creditrail/internal/domain/credit"
	"github.com/creditrail/creditrail/internal/domain/entity"
	"github.com/creditrail/creditrail/internal/domain/opconfig"
	"github.com/creditrail/creditrail/internal/domain/purchase"
	"github.com/creditrail/creditrail/internal/logger"
	"github.com/creditrail/creditrail/internal/postgres"
	"github.com/creditrail/creditrail/internal/publisher"
)

// ServiceParams bundles common dependencies injected into services. All
// services share the same storage gateway so nested calls join the caller's
// unit transparently.
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient

	EventPublisher publisher.EventPublisher

	// Repositories
	CreditRepo      credit.Repository
	EntityRepo      entity.Repository
	PurchaseRepo    purchase.Repository
	AllocationRepo  allocation.Repository
	OpConfigRepo    opconfig.Repository
	AppRegistryRepo appregistry.Repository
}
