package service

import (
	"context"
	"testing"

	"github.com/creditrail/creditrail/internal/domain/appregistry"
	"github.com/creditrail/creditrail/internal/domain/opconfig"
	"github.com/creditrail/creditrail/internal/testutil"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type ConfigResolverSuite struct {
	suite.Suite
	ctx          context.Context
	resolver     ConfigResolverService
	opConfigRepo *testutil.InMemoryOpConfigStore
	creditRepo   *testutil.InMemoryCreditStore
	registry     *testutil.InMemoryAppRegistryStore
	publisher    *testutil.InMemoryPublisher
	ledger       LedgerService
}

func TestConfigResolver(t *testing.T) {
	suite.Run(t, new(ConfigResolverSuite))
}

func (s *ConfigResolverSuite) SetupTest() {
	s.ctx = testutil.SetupContext()
	s.opConfigRepo = testutil.NewInMemoryOpConfigStore()
	s.creditRepo = testutil.NewInMemoryCreditStore()
	s.registry = testutil.NewInMemoryAppRegistryStore()
	s.publisher = testutil.NewInMemoryPublisher()

	params := ServiceParams{
		Logger:          testutil.GetLogger(),
		Config:          testutil.GetConfig(),
		DB:              testutil.NewInMemoryDB(),
		EventPublisher:  s.publisher,
		CreditRepo:      s.creditRepo,
		OpConfigRepo:    s.opConfigRepo,
		AppRegistryRepo: s.registry,
	}
	s.resolver = NewConfigResolverService(params)
	s.ledger = NewLedgerService(params)
}

const opCode = types.OperationCode("crm.contacts.create")

func (s *ConfigResolverSuite) TestDefaultWhenNothingConfigured() {
	resolved, err := s.resolver.Resolve(s.ctx, opCode, "")
	s.NoError(err)
	s.Equal(ConfigSourceDefault, resolved.Source)
	s.Equal("1", resolved.CreditCost.String())
	s.Equal("operation", resolved.Unit)
	s.True(resolved.AllowOverage)
}

func (s *ConfigResolverSuite) TestInvalidOperationCodeRejected() {
	_, err := s.resolver.Resolve(s.ctx, "crm.contacts", "")
	s.Error(err)

	_, err = s.resolver.Resolve(s.ctx, "CRM.Contacts.Create", "")
	s.Error(err)
}

func (s *ConfigResolverSuite) TestInheritanceChainMostSpecificWins() {
	_, err := s.resolver.Upsert(s.ctx, &UpsertConfigRequest{
		OperationCode: opCode,
		IsGlobal:      true,
		CreditCost:    decimal.NewFromInt(5),
	})
	s.NoError(err)

	resolved, err := s.resolver.Resolve(s.ctx, opCode, "ent-1")
	s.NoError(err)
	s.Equal(ConfigSourceGlobal, resolved.Source)
	s.Equal("5", resolved.CreditCost.String())

	_, err = s.resolver.Upsert(s.ctx, &UpsertConfigRequest{
		OperationCode: opCode,
		CreditCost:    decimal.NewFromInt(3),
	})
	s.NoError(err)

	resolved, err = s.resolver.Resolve(s.ctx, opCode, "ent-1")
	s.NoError(err)
	s.Equal(ConfigSourceTenant, resolved.Source)
	s.Equal("3", resolved.CreditCost.String())

	_, err = s.resolver.Upsert(s.ctx, &UpsertConfigRequest{
		OperationCode: opCode,
		EntityID:      lo.ToPtr("ent-1"),
		CreditCost:    decimal.NewFromInt(2),
	})
	s.NoError(err)

	resolved, err = s.resolver.Resolve(s.ctx, opCode, "ent-1")
	s.NoError(err)
	s.Equal(ConfigSourceEntity, resolved.Source)
	s.Equal("2", resolved.CreditCost.String())

	// Other entities still resolve at tenant scope.
	resolved, err = s.resolver.Resolve(s.ctx, opCode, "ent-2")
	s.NoError(err)
	s.Equal(ConfigSourceTenant, resolved.Source)
}

func (s *ConfigResolverSuite) TestUpsertInvalidatesCache() {
	resolved, err := s.resolver.Resolve(s.ctx, opCode, "ent-1")
	s.NoError(err)
	s.Equal(ConfigSourceDefault, resolved.Source)

	_, err = s.resolver.Upsert(s.ctx, &UpsertConfigRequest{
		OperationCode: opCode,
		CreditCost:    decimal.NewFromInt(7),
	})
	s.NoError(err)

	resolved, err = s.resolver.Resolve(s.ctx, opCode, "ent-1")
	s.NoError(err)
	s.Equal(ConfigSourceTenant, resolved.Source)
	s.Equal("7", resolved.CreditCost.String())
}

func (s *ConfigResolverSuite) TestUpsertBroadcastsConfigUpdate() {
	_, err := s.resolver.Upsert(s.ctx, &UpsertConfigRequest{
		OperationCode: opCode,
		CreditCost:    decimal.NewFromInt(4),
	})
	s.NoError(err)

	published := s.publisher.EventsOfType(types.EventCreditConfig)
	s.Len(published, 1)
	s.True(published[0].Broadcast)
}

func (s *ConfigResolverSuite) TestPriceQuantityAppliesMultiplier() {
	_, err := s.resolver.Upsert(s.ctx, &UpsertConfigRequest{
		OperationCode:  opCode,
		CreditCost:     decimal.NewFromFloat(0.5),
		UnitMultiplier: decimal.NewFromInt(2),
	})
	s.NoError(err)

	quote, err := s.resolver.PriceQuantity(s.ctx, opCode, "ent-1", decimal.NewFromInt(10))
	s.NoError(err)
	s.Equal("1", quote.UnitCost.String())
	s.Equal("10", quote.TotalCost.String())
}

func (s *ConfigResolverSuite) TestVolumeTierOverridesCost() {
	_, err := s.resolver.Upsert(s.ctx, &UpsertConfigRequest{
		OperationCode: opCode,
		CreditCost:    decimal.NewFromInt(10),
		VolumeTiers: opconfig.VolumeTiers{
			{Threshold: decimal.NewFromInt(100), Cost: decimal.NewFromInt(8)},
			{Threshold: decimal.NewFromInt(500), Cost: decimal.NewFromInt(5)},
		},
	})
	s.NoError(err)

	// No usage yet: base cost applies.
	quote, err := s.resolver.PriceQuantity(s.ctx, opCode, "ent-1", decimal.NewFromInt(1))
	s.NoError(err)
	s.Equal("10", quote.TotalCost.String())

	// Push month-to-date consumption past the first threshold.
	s.seedConsumption("ent-1", 150)
	quote, err = s.resolver.PriceQuantity(s.ctx, opCode, "ent-1", decimal.NewFromInt(1))
	s.NoError(err)
	s.Equal("8", quote.TotalCost.String())

	// And past the second.
	s.seedConsumption("ent-1", 400)
	quote, err = s.resolver.PriceQuantity(s.ctx, opCode, "ent-1", decimal.NewFromInt(1))
	s.NoError(err)
	s.Equal("5", quote.TotalCost.String())
}

func (s *ConfigResolverSuite) TestFreeAllowanceMakesOperationFree() {
	_, err := s.resolver.Upsert(s.ctx, &UpsertConfigRequest{
		OperationCode:       opCode,
		CreditCost:          decimal.NewFromInt(10),
		FreeAllowance:       2,
		FreeAllowancePeriod: types.AllowancePeriodMonth,
	})
	s.NoError(err)

	quote, err := s.resolver.PriceQuantity(s.ctx, opCode, "ent-1", decimal.NewFromInt(1))
	s.NoError(err)
	s.True(quote.AllowanceUsed)
	s.Equal("0", quote.TotalCost.String())

	// Two consumptions exhaust the allowance.
	s.seedConsumption("ent-1", 0)
	s.seedConsumption("ent-1", 0)
	quote, err = s.resolver.PriceQuantity(s.ctx, opCode, "ent-1", decimal.NewFromInt(1))
	s.NoError(err)
	s.False(quote.AllowanceUsed)
	s.Equal("10", quote.TotalCost.String())
}

func (s *ConfigResolverSuite) TestConfigureModuleExpandsOperations() {
	s.registry.AddApplication(&appregistry.Application{
		ID:      "app-crm",
		AppCode: "crm",
	})
	s.registry.AddModule(&appregistry.Module{
		ID:          "mod-contacts",
		AppID:       "app-crm",
		ModuleCode:  "contacts",
		Permissions: []string{"create", "update", "delete"},
	})

	configs, err := s.resolver.ConfigureModule(s.ctx, &ModuleConfigRequest{
		AppCode:    "crm",
		ModuleCode: "contacts",
		CreditCost: decimal.NewFromInt(2),
	})
	s.NoError(err)
	s.Len(configs, 3)

	for _, permission := range []string{"create", "update", "delete"} {
		resolved, err := s.resolver.Resolve(s.ctx, types.NewOperationCode("crm", "contacts", permission), "")
		s.NoError(err)
		s.Equal(ConfigSourceTenant, resolved.Source)
		s.Equal("2", resolved.CreditCost.String())
	}
}

func (s *ConfigResolverSuite) TestArchiveRestoresFallback() {
	cfg, err := s.resolver.Upsert(s.ctx, &UpsertConfigRequest{
		OperationCode: opCode,
		CreditCost:    decimal.NewFromInt(3),
	})
	s.NoError(err)

	err = s.resolver.ArchiveConfig(s.ctx, cfg.ID)
	s.NoError(err)

	resolved, err := s.resolver.Resolve(s.ctx, opCode, "")
	s.NoError(err)
	s.Equal(ConfigSourceDefault, resolved.Source)
}

// seedConsumption credits the entity and immediately consumes the amount so
// the ledger carries month-to-date usage.
func (s *ConfigResolverSuite) seedConsumption(entityID string, amount int64) {
	if amount > 0 {
		_, err := s.ledger.Credit(s.ctx, &LedgerEntryRequest{
			EntityID: entityID,
			Amount:   decimal.NewFromInt(amount),
			Type:     types.TransactionTypePurchase,
		})
		s.NoError(err)
	}
	_, err := s.ledger.Debit(s.ctx, &LedgerEntryRequest{
		EntityID:      entityID,
		Amount:        decimal.NewFromInt(amount),
		Type:          types.TransactionTypeConsumption,
		OperationCode: opCode.String(),
	})
	s.NoError(err)
}
