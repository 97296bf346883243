package management

import (
	"context"

	"pixelgate/internal/cloaking"
	"pixelgate/internal/site"
)

type Service interface {
	CreateSite(ctx context.Context, req CreateSiteRequest) (*Site, error)
	ListSites(ctx context.Context) ([]Site, error)
	GetSite(ctx context.Context, id string) (*Site, error)
	UpdateSite(ctx context.Context, id string, req UpdateSiteRequest) (*Site, error)
	DeleteSite(ctx context.Context, id string) error

	CreateRule(ctx context.Context, siteID string, req CreateRuleRequest) (*cloaking.Rule, error)
	ListRules(ctx context.Context, siteID string) (*RuleList, error)
	GetRule(ctx context.Context, siteID, ruleID string) (*cloaking.Rule, error)
	UpdateRule(ctx context.Context, siteID, ruleID string, req UpdateRuleRequest) (*cloaking.Rule, error)
	SetRuleStatus(ctx context.Context, siteID, ruleID string, status cloaking.RuleStatus) (*cloaking.Rule, error)
	ReorderRules(ctx context.Context, siteID string, req ReorderRulesRequest) (*RuleList, error)
	DeleteRule(ctx context.Context, siteID, ruleID string) error
	GetRuleAuditLogs(ctx context.Context, siteID, ruleID string, limit int) ([]AuditLog, error)

	ListAllowList(ctx context.Context, siteID string) ([]AllowListEntry, error)
	AddAllowListEntry(ctx context.Context, siteID string, req CreateAllowListEntryRequest) (*AllowListEntry, error)
	DeleteAllowListEntry(ctx context.Context, siteID, entryID string) error

	ListVariants(ctx context.Context, siteID string) ([]site.Variant, error)
	UpsertVariant(ctx context.Context, siteID string, variantType cloaking.VariantType, req UpsertVariantRequest) (*site.Variant, error)
	DeleteVariant(ctx context.Context, siteID string, variantType cloaking.VariantType) error
}

// Repository is the relational store behind the management API.
type Repository interface {
	CreateSite(ctx context.Context, s *Site) error
	ListSites(ctx context.Context) ([]Site, error)
	GetSite(ctx context.Context, id string) (*Site, error)
	UpdateSite(ctx context.Context, s *Site) error
	DeleteSite(ctx context.Context, id string) error

	CreateRule(ctx context.Context, rule *cloaking.Rule) error
	ListRules(ctx context.Context, siteID string) ([]cloaking.Rule, error)
	GetRule(ctx context.Context, siteID, ruleID string) (*cloaking.Rule, error)
	UpdateRule(ctx context.Context, rule *cloaking.Rule) error
	ReorderRules(ctx context.Context, siteID string, ruleIDs []string) error
	DeleteRule(ctx context.Context, siteID, ruleID string) error

	ListAllowList(ctx context.Context, siteID string) ([]AllowListEntry, error)
	CreateAllowListEntry(ctx context.Context, entry *AllowListEntry) error
	DeleteAllowListEntry(ctx context.Context, siteID, entryID string) error
}

type AuditRepository interface {
	CreateAuditLog(ctx context.Context, log *AuditLog) error
	GetAuditLogs(ctx context.Context, ruleID string, limit int) ([]AuditLog, error)
}

// SiteCacheInvalidator is satisfied by site.RedisCache.
type SiteCacheInvalidator interface {
	Delete(ctx context.Context, trackingCodes ...string) error
}
