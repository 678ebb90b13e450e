package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/creditrail/creditrail/internal/domain/events"
	"github.com/creditrail/creditrail/internal/domain/opconfig"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

// Config sources, from most to least specific.
const (
	ConfigSourceEntity  = "entity"
	ConfigSourceTenant  = "tenant"
	ConfigSourceGlobal  = "global"
	ConfigSourceDefault = "default"
)

const resolverCacheTTL = 5 * time.Minute

// ResolvedConfig is the effective pricing of one operation after walking the
// inheritance chain. Source records which scope supplied it.
type ResolvedConfig struct {
	ConfigID            string                `json:"config_id,omitempty"`
	OperationCode       types.OperationCode   `json:"operation_code"`
	CreditCost          decimal.Decimal       `json:"credit_cost"`
	Unit                string                `json:"unit"`
	UnitMultiplier      decimal.Decimal       `json:"unit_multiplier"`
	FreeAllowance       int                   `json:"free_allowance"`
	FreeAllowancePeriod types.AllowancePeriod `json:"free_allowance_period,omitempty"`
	VolumeTiers         opconfig.VolumeTiers  `json:"volume_tiers,omitempty"`
	AllowOverage        bool                  `json:"allow_overage"`
	OverageLimit        *decimal.Decimal      `json:"overage_limit,omitempty"`
	OverageCost         *decimal.Decimal      `json:"overage_cost,omitempty"`
	Source              string                `json:"source"`
}

// Quote is a priced request for a quantity of one operation.
type Quote struct {
	Config        *ResolvedConfig `json:"config"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	AllowanceUsed bool            `json:"allowance_used"`
}

// UpsertConfigRequest creates or replaces a pricing row at one scope.
type UpsertConfigRequest struct {
	OperationCode       types.OperationCode   `json:"operation_code" validate:"required"`
	EntityID            *string               `json:"entity_id,omitempty"`
	IsGlobal            bool                  `json:"is_global"`
	CreditCost          decimal.Decimal       `json:"credit_cost"`
	Unit                string                `json:"unit"`
	UnitMultiplier      decimal.Decimal       `json:"unit_multiplier"`
	FreeAllowance       int                   `json:"free_allowance"`
	FreeAllowancePeriod types.AllowancePeriod `json:"free_allowance_period,omitempty"`
	VolumeTiers         opconfig.VolumeTiers  `json:"volume_tiers,omitempty"`
	AllowOverage        bool                  `json:"allow_overage"`
	OverageLimit        *decimal.Decimal      `json:"overage_limit,omitempty"`
	OverageCost         *decimal.Decimal      `json:"overage_cost,omitempty"`
	Priority            int                   `json:"priority"`
}

// ModuleConfigRequest applies one pricing shape to every operation of a
// registered application module.
type ModuleConfigRequest struct {
	AppCode        string          `json:"app_code" validate:"required"`
	ModuleCode     string          `json:"module_code" validate:"required"`
	CreditCost     decimal.Decimal `json:"credit_cost"`
	Unit           string          `json:"unit"`
	UnitMultiplier decimal.Decimal `json:"unit_multiplier"`
	AllowOverage   bool            `json:"allow_overage"`
}

// ConfigResolverService resolves operation pricing through the
// entity -> tenant -> global -> default inheritance chain.
type ConfigResolverService interface {
	// Resolve walks the chain for one operation. entityID may be empty for
	// tenant-level resolution.
	Resolve(ctx context.Context, operationCode types.OperationCode, entityID string) (*ResolvedConfig, error)
	// PriceQuantity prices a quantity of the operation, applying volume
	// tiers by month-to-date consumption and the free allowance window.
	PriceQuantity(ctx context.Context, operationCode types.OperationCode, entityID string, quantity decimal.Decimal) (*Quote, error)

	Upsert(ctx context.Context, req *UpsertConfigRequest) (*opconfig.Config, error)
	// ConfigureModule expands the module's permissions into operation codes
	// and upserts a tenant-scoped config for each.
	ConfigureModule(ctx context.Context, req *ModuleConfigRequest) ([]*opconfig.Config, error)
	ListConfigs(ctx context.Context) ([]*opconfig.Config, error)
	ArchiveConfig(ctx context.Context, id string) error
}

type configResolverService struct {
	ServiceParams
	cache *gocache.Cache
}

func NewConfigResolverService(params ServiceParams) ConfigResolverService {
	return &configResolverService{
		ServiceParams: params,
		cache:         gocache.New(resolverCacheTTL, 10*time.Minute),
	}
}

// defaultConfig is the built-in fallback: one credit per operation, overage
// permitted.
func defaultConfig(operationCode types.OperationCode) *ResolvedConfig {
	return &ResolvedConfig{
		OperationCode:  operationCode,
		CreditCost:     decimal.NewFromInt(1),
		Unit:           "operation",
		UnitMultiplier: decimal.NewFromInt(1),
		FreeAllowance:  0,
		AllowOverage:   true,
		Source:         ConfigSourceDefault,
	}
}

func (s *configResolverService) Resolve(ctx context.Context, operationCode types.OperationCode, entityID string) (*ResolvedConfig, error) {
	if err := operationCode.Validate(); err != nil {
		return nil, err
	}

	key := s.cacheKey(ctx, operationCode, entityID)
	if cached, found := s.cache.Get(key); found {
		return cached.(*ResolvedConfig), nil
	}

	resolved, err := s.resolveChain(ctx, operationCode, entityID)
	if err != nil {
		return nil, err
	}

	s.cache.SetDefault(key, resolved)
	return resolved, nil
}

func (s *configResolverService) resolveChain(ctx context.Context, operationCode types.OperationCode, entityID string) (*ResolvedConfig, error) {
	if entityID != "" {
		cfg, err := s.OpConfigRepo.GetEntityScoped(ctx, operationCode, entityID)
		if err == nil {
			return fromConfig(cfg, ConfigSourceEntity), nil
		}
		if !ierr.IsNotFound(err) {
			return nil, err
		}
	}

	cfg, err := s.OpConfigRepo.GetTenantScoped(ctx, operationCode)
	if err == nil {
		return fromConfig(cfg, ConfigSourceTenant), nil
	}
	if !ierr.IsNotFound(err) {
		return nil, err
	}

	cfg, err = s.OpConfigRepo.GetGlobal(ctx, operationCode)
	if err == nil {
		return fromConfig(cfg, ConfigSourceGlobal), nil
	}
	if !ierr.IsNotFound(err) {
		return nil, err
	}

	return defaultConfig(operationCode), nil
}

func fromConfig(cfg *opconfig.Config, source string) *ResolvedConfig {
	return &ResolvedConfig{
		ConfigID:            cfg.ID,
		OperationCode:       cfg.OperationCode,
		CreditCost:          cfg.CreditCost,
		Unit:                cfg.Unit,
		UnitMultiplier:      cfg.UnitMultiplier,
		FreeAllowance:       cfg.FreeAllowance,
		FreeAllowancePeriod: cfg.FreeAllowancePeriod,
		VolumeTiers:         cfg.VolumeTiers,
		AllowOverage:        cfg.AllowOverage,
		OverageLimit:        cfg.OverageLimit,
		OverageCost:         cfg.OverageCost,
		Source:              source,
	}
}

func (s *configResolverService) PriceQuantity(ctx context.Context, operationCode types.OperationCode, entityID string, quantity decimal.Decimal) (*Quote, error) {
	if !quantity.IsPositive() {
		return nil, ierr.NewError("quantity must be positive").
			WithReportableDetails(map[string]any{
				"operation_code": operationCode,
				"quantity":       quantity,
			}).
			Mark(ierr.ErrInvalidAmount)
	}

	resolved, err := s.Resolve(ctx, operationCode, entityID)
	if err != nil {
		return nil, err
	}

	// Free allowance: operations inside the current window cost nothing.
	// The consumption ledger itself is the counter, so no separate
	// allowance state needs resetting.
	if resolved.FreeAllowance > 0 && entityID != "" {
		used, err := s.CreditRepo.CountConsumptionSince(ctx, entityID, operationCode.String(), periodStart(resolved.FreeAllowancePeriod, time.Now().UTC()))
		if err != nil {
			return nil, err
		}
		if used < resolved.FreeAllowance {
			return &Quote{
				Config:        resolved,
				Quantity:      quantity,
				UnitCost:      decimal.Zero,
				TotalCost:     decimal.Zero,
				AllowanceUsed: true,
			}, nil
		}
	}

	unitCost := resolved.CreditCost
	if len(resolved.VolumeTiers) > 0 && entityID != "" {
		usage, err := s.CreditRepo.SumConsumptionSince(ctx, entityID, operationCode.String(), periodStart(types.AllowancePeriodMonth, time.Now().UTC()))
		if err != nil {
			return nil, err
		}
		if tier := resolved.VolumeTiers.TierFor(usage); tier != nil {
			unitCost = tier.Cost
		}
	}

	unitCost = unitCost.Mul(resolved.UnitMultiplier)
	return &Quote{
		Config:    resolved,
		Quantity:  quantity,
		UnitCost:  unitCost,
		TotalCost: unitCost.Mul(quantity),
	}, nil
}

// periodStart returns the beginning of the current allowance window.
func periodStart(period types.AllowancePeriod, now time.Time) time.Time {
	switch period {
	case types.AllowancePeriodDay:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case types.AllowancePeriodWeek:
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case types.AllowancePeriodYear:
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

func (s *configResolverService) Upsert(ctx context.Context, req *UpsertConfigRequest) (*opconfig.Config, error) {
	cfg := &opconfig.Config{
		ID:                  types.GenerateUUIDWithPrefix(types.UUID_PREFIX_OPERATION_CONFIG),
		OperationCode:       req.OperationCode,
		EntityID:            req.EntityID,
		IsGlobal:            req.IsGlobal,
		CreditCost:          req.CreditCost,
		Unit:                req.Unit,
		UnitMultiplier:      req.UnitMultiplier,
		FreeAllowance:       req.FreeAllowance,
		FreeAllowancePeriod: req.FreeAllowancePeriod,
		VolumeTiers:         req.VolumeTiers,
		AllowOverage:        req.AllowOverage,
		OverageLimit:        req.OverageLimit,
		OverageCost:         req.OverageCost,
		IsActive:            true,
		Priority:            req.Priority,
		BaseModel:           types.GetDefaultBaseModel(ctx),
	}
	if cfg.Unit == "" {
		cfg.Unit = "operation"
	}
	if cfg.UnitMultiplier.IsZero() {
		cfg.UnitMultiplier = decimal.NewFromInt(1)
	}
	if cfg.IsGlobal {
		cfg.TenantID = ""
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.OpConfigRepo.Create(ctx, cfg); err != nil {
			return err
		}
		s.DB.OnCommit(ctx, func() {
			s.invalidate(ctx, req.OperationCode)
			s.publishConfigUpdate(ctx, cfg)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *configResolverService) ConfigureModule(ctx context.Context, req *ModuleConfigRequest) ([]*opconfig.Config, error) {
	module, err := s.AppRegistryRepo.GetModule(ctx, req.AppCode, req.ModuleCode)
	if err != nil {
		return nil, err
	}

	codes := module.OperationCodes(req.AppCode)
	configs := make([]*opconfig.Config, 0, len(codes))
	for _, code := range codes {
		cfg, err := s.Upsert(ctx, &UpsertConfigRequest{
			OperationCode:  code,
			CreditCost:     req.CreditCost,
			Unit:           req.Unit,
			UnitMultiplier: req.UnitMultiplier,
			AllowOverage:   req.AllowOverage,
		})
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (s *configResolverService) ListConfigs(ctx context.Context) ([]*opconfig.Config, error) {
	return s.OpConfigRepo.ListByTenant(ctx)
}

func (s *configResolverService) ArchiveConfig(ctx context.Context, id string) error {
	cfg, err := s.OpConfigRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.OpConfigRepo.Archive(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, cfg.OperationCode)
	return nil
}

func (s *configResolverService) cacheKey(ctx context.Context, operationCode types.OperationCode, entityID string) string {
	return fmt.Sprintf("%s|%s|%s", types.GetTenantID(ctx), entityID, operationCode)
}

// invalidate drops every cached resolution of the operation code across
// entities; the next read re-walks the chain.
func (s *configResolverService) invalidate(ctx context.Context, operationCode types.OperationCode) {
	suffix := "|" + operationCode.String()
	for key := range s.cache.Items() {
		if strings.HasSuffix(key, suffix) {
			s.cache.Delete(key)
		}
	}
}

// publishConfigUpdate broadcasts the new pricing so every application can
// refresh its local view. Best effort after commit.
func (s *configResolverService) publishConfigUpdate(ctx context.Context, cfg *opconfig.Config) {
	if s.EventPublisher == nil {
		return
	}
	scope := ConfigSourceTenant
	switch {
	case cfg.IsGlobal:
		scope = ConfigSourceGlobal
	case cfg.EntityID != nil:
		scope = ConfigSourceEntity
	}
	_, err := s.EventPublisher.PublishBroadcast(ctx, types.EventCreditConfig, "", &events.ConfigEventData{
		OperationCode: cfg.OperationCode.String(),
		CreditCost:    cfg.CreditCost,
		Scope:         scope,
	})
	if err != nil {
		s.Logger.Errorw("failed to broadcast config update",
			"operation_code", cfg.OperationCode,
			"error", err,
		)
	}
}
