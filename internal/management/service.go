package management

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"pixelgate/internal/cloaking"
	"pixelgate/internal/constants"
	"pixelgate/internal/logger"
	"pixelgate/internal/site"
	pkgerrors "pixelgate/pkg/errors"
	"pixelgate/pkg/metrics"
	"pixelgate/pkg/models"
)

const trackingCodePrefix = "px_"

var errVariantsDisabled = pkgerrors.ErrServiceUnavailable.WithDetail("reason", "content variant store not configured")

type service struct {
	repo                Repository
	matchers            MatcherValidator
	auditRepo           AuditRepository
	variants            site.VariantStore
	configEventProducer *ConfigEventProducer
	siteCache           SiteCacheInvalidator
	logger              logger.Logger
}

type ServiceOption func(*service)

func WithAudit(auditRepo AuditRepository) ServiceOption {
	return func(s *service) {
		s.auditRepo = auditRepo
	}
}

func WithVariants(store site.VariantStore) ServiceOption {
	return func(s *service) {
		s.variants = store
	}
}

func WithConfigEvents(configEventProducer *ConfigEventProducer) ServiceOption {
	return func(s *service) {
		s.configEventProducer = configEventProducer
	}
}

// WithSiteCache drops the collectors' cached copy of a site before a change
// returns, so the next collector request reads the stored configuration.
func WithSiteCache(cache SiteCacheInvalidator) ServiceOption {
	return func(s *service) {
		s.siteCache = cache
	}
}

func NewService(repo Repository, matchers MatcherValidator, log logger.Logger, opts ...ServiceOption) Service {
	s := &service{
		repo:     repo,
		matchers: matchers,
		logger:   log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateSite(ctx context.Context, req CreateSiteRequest) (st *Site, err error) {
	defer func() { metrics.IncManagementOperation(EntitySite, models.ActionCreate, err) }()

	if err := ValidateCreateSite(req); err != nil {
		return nil, invalid(err)
	}

	st = &Site{
		TrackingCode:               req.TrackingCode,
		Name:                       strings.TrimSpace(req.Name),
		Domain:                     strings.TrimSpace(req.Domain),
		Active:                     boolOr(req.Active, true),
		CloakingEnabled:            boolOr(req.CloakingEnabled, false),
		InteractionTrackingEnabled: boolOr(req.InteractionTrackingEnabled, false),
	}
	if st.TrackingCode == "" {
		st.TrackingCode = newTrackingCode()
	}

	if err := s.repo.CreateSite(ctx, st); err != nil {
		return nil, wrapRepoError(err)
	}
	return st, nil
}

func (s *service) ListSites(ctx context.Context) ([]Site, error) {
	sites, err := s.repo.ListSites(ctx)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	return sites, nil
}

func (s *service) GetSite(ctx context.Context, id string) (*Site, error) {
	st, err := s.repo.GetSite(ctx, id)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	return st, nil
}

func (s *service) UpdateSite(ctx context.Context, id string, req UpdateSiteRequest) (st *Site, err error) {
	defer func() { metrics.IncManagementOperation(EntitySite, models.ActionUpdate, err) }()

	if err := ValidateUpdateSite(req); err != nil {
		return nil, invalid(err)
	}

	st, err = s.repo.GetSite(ctx, id)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	previousCode := st.TrackingCode

	if req.Name != nil {
		st.Name = strings.TrimSpace(*req.Name)
	}
	if req.Domain != nil {
		st.Domain = strings.TrimSpace(*req.Domain)
	}
	if req.TrackingCode != nil {
		st.TrackingCode = *req.TrackingCode
	}
	if req.Active != nil {
		st.Active = *req.Active
	}
	if req.CloakingEnabled != nil {
		st.CloakingEnabled = *req.CloakingEnabled
	}
	if req.InteractionTrackingEnabled != nil {
		st.InteractionTrackingEnabled = *req.InteractionTrackingEnabled
	}

	if err := s.repo.UpdateSite(ctx, st); err != nil {
		return nil, wrapRepoError(err)
	}

	event := models.SiteConfigEvent{
		SiteID:       st.ID,
		TrackingCode: st.TrackingCode,
		Entity:       EntitySite,
		EntityID:     st.ID,
		Action:       models.ActionUpdate,
	}
	if previousCode != st.TrackingCode {
		event.PreviousTrackingCode = previousCode
	}
	s.announce(ctx, event)

	return st, nil
}

func (s *service) DeleteSite(ctx context.Context, id string) (err error) {
	defer func() { metrics.IncManagementOperation(EntitySite, models.ActionDelete, err) }()

	st, err := s.repo.GetSite(ctx, id)
	if err != nil {
		return wrapRepoError(err)
	}
	if err := s.repo.DeleteSite(ctx, id); err != nil {
		return wrapRepoError(err)
	}

	if s.variants != nil {
		for _, vt := range variantOrder {
			if err := s.variants.DeleteVariant(ctx, id, vt); err != nil && !pkgerrors.IsNotFound(err) {
				s.logger.WarnwCtx(ctx, "Failed to delete content variant of removed site",
					"site_id", id,
					"variant", vt,
					"error", err,
				)
			}
		}
	}

	s.siteChanged(ctx, st, EntitySite, st.ID, models.ActionDelete)
	return nil
}

func (s *service) CreateRule(ctx context.Context, siteID string, req CreateRuleRequest) (rule *cloaking.Rule, err error) {
	defer func() { metrics.IncManagementOperation(EntityRule, models.ActionCreate, err) }()

	st, err := s.repo.GetSite(ctx, siteID)
	if err != nil {
		return nil, wrapRepoError(err)
	}

	status := cloaking.RuleStatus(req.Status)
	if status == "" {
		status = cloaking.StatusActive
	}
	rule = &cloaking.Rule{
		SiteID:  siteID,
		Name:    strings.TrimSpace(req.Name),
		Trigger: cloaking.TriggerKind(req.TriggerType),
		Matcher: cloaking.Matcher{Kind: cloaking.MatchKind(req.MatchKind), Value: req.Condition},
		Action:  cloaking.Action(req.Action),
		Status:  status,
	}
	if rule.Matcher.Kind == "" {
		rule.Matcher.Kind = cloaking.MatchSubstring
	}
	if err := ValidateRule(*rule, s.matchers); err != nil {
		return nil, invalid(err)
	}

	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, wrapRepoError(err)
	}

	s.audit(ctx, rule.ID, siteID, models.ActionCreate, nil, rule)
	s.siteChanged(ctx, st, EntityRule, rule.ID, models.ActionCreate)
	return rule, nil
}

func (s *service) ListRules(ctx context.Context, siteID string) (*RuleList, error) {
	if _, err := s.repo.GetSite(ctx, siteID); err != nil {
		return nil, wrapRepoError(err)
	}
	rules, err := s.repo.ListRules(ctx, siteID)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	return &RuleList{SiteID: siteID, Rules: rules}, nil
}

func (s *service) GetRule(ctx context.Context, siteID, ruleID string) (*cloaking.Rule, error) {
	rule, err := s.repo.GetRule(ctx, siteID, ruleID)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	return rule, nil
}

func (s *service) UpdateRule(ctx context.Context, siteID, ruleID string, req UpdateRuleRequest) (rule *cloaking.Rule, err error) {
	defer func() { metrics.IncManagementOperation(EntityRule, models.ActionUpdate, err) }()

	st, err := s.repo.GetSite(ctx, siteID)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	rule, err = s.repo.GetRule(ctx, siteID, ruleID)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	old := *rule

	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.TriggerType != nil {
		rule.Trigger = cloaking.TriggerKind(*req.TriggerType)
	}
	if req.MatchKind != nil {
		rule.Matcher.Kind = cloaking.MatchKind(*req.MatchKind)
	}
	if req.Condition != nil {
		rule.Matcher.Value = *req.Condition
	}
	if req.Action != nil {
		rule.Action = cloaking.Action(*req.Action)
	}
	if req.Status != nil {
		rule.Status = cloaking.RuleStatus(*req.Status)
	}
	if err := ValidateRule(*rule, s.matchers); err != nil {
		return nil, invalid(err)
	}

	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return nil, wrapRepoError(err)
	}

	s.audit(ctx, rule.ID, siteID, models.ActionUpdate, &old, rule)
	s.siteChanged(ctx, st, EntityRule, rule.ID, models.ActionUpdate)
	return rule, nil
}

// SetRuleStatus pauses or resumes a rule. Setting the current status is a no-op.
func (s *service) SetRuleStatus(ctx context.Context, siteID, ruleID string, status cloaking.RuleStatus) (rule *cloaking.Rule, err error) {
	defer func() { metrics.IncManagementOperation(EntityRule, models.ActionToggle, err) }()

	if !status.Valid() {
		return nil, pkgerrors.ErrValidation.WithDetail("status", string(status))
	}
	st, err := s.repo.GetSite(ctx, siteID)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	rule, err = s.repo.GetRule(ctx, siteID, ruleID)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	if rule.Status == status {
		return rule, nil
	}

	old := *rule
	rule.Status = status
	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return nil, wrapRepoError(err)
	}

	s.audit(ctx, rule.ID, siteID, models.ActionToggle, &old, rule)
	s.siteChanged(ctx, st, EntityRule, rule.ID, models.ActionToggle)
	return rule, nil
}

func (s *service) ReorderRules(ctx context.Context, siteID string, req ReorderRulesRequest) (list *RuleList, err error) {
	defer func() { metrics.IncManagementOperation(EntityRule, models.ActionReorder, err) }()

	if err := ValidateReorder(req); err != nil {
		return nil, invalid(err)
	}
	st, err := s.repo.GetSite(ctx, siteID)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	if err := s.repo.ReorderRules(ctx, siteID, req.RuleIDs); err != nil {
		return nil, wrapRepoError(err)
	}

	s.siteChanged(ctx, st, EntityRule, "", models.ActionReorder)

	rules, err := s.repo.ListRules(ctx, siteID)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	return &RuleList{SiteID: siteID, Rules: rules}, nil
}

func (s *service) DeleteRule(ctx context.Context, siteID, ruleID string) (err error) {
	defer func() { metrics.IncManagementOperation(EntityRule, models.ActionDelete, err) }()

	st, err := s.repo.GetSite(ctx, siteID)
	if err != nil {
		return wrapRepoError(err)
	}
	rule, err := s.repo.GetRule(ctx, siteID, ruleID)
	if err != nil {
		return wrapRepoError(err)
	}
	if err := s.repo.DeleteRule(ctx, siteID, ruleID); err != nil {
		return wrapRepoError(err)
	}

	s.audit(ctx, ruleID, siteID, models.ActionDelete, rule, nil)
	s.siteChanged(ctx, st, EntityRule, ruleID, models.ActionDelete)
	return nil
}

func (s *service) GetRuleAuditLogs(ctx context.Context, siteID, ruleID string, limit int) ([]AuditLog, error) {
	if s.auditRepo == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithDetail("reason", "audit logging not enabled")
	}
	if _, err := s.repo.GetRule(ctx, siteID, ruleID); err != nil {
		return nil, wrapRepoError(err)
	}
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}
	logs, err := s.auditRepo.GetAuditLogs(ctx, ruleID, limit)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	return logs, nil
}

func (s *service) ListAllowList(ctx context.Context, siteID string) ([]AllowListEntry, error) {
	if _, err := s.repo.GetSite(ctx, siteID); err != nil {
		return nil, wrapRepoError(err)
	}
	entries, err := s.repo.ListAllowList(ctx, siteID)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	return entries, nil
}

func (s *service) AddAllowListEntry(ctx context.Context, siteID string, req CreateAllowListEntryRequest) (entry *AllowListEntry, err error) {
	defer func() { metrics.IncManagementOperation(EntityAllowList, models.ActionCreate, err) }()

	if err := ValidateAllowListEntry(req); err != nil {
		return nil, invalid(err)
	}
	st, err := s.repo.GetSite(ctx, siteID)
	if err != nil {
		return nil, wrapRepoError(err)
	}

	entry = &AllowListEntry{
		SiteID: siteID,
		Kind:   req.Kind,
		Value:  strings.TrimSpace(req.Value),
		Note:   req.Note,
	}
	if err := s.repo.CreateAllowListEntry(ctx, entry); err != nil {
		return nil, wrapRepoError(err)
	}

	s.siteChanged(ctx, st, EntityAllowList, entry.ID, models.ActionCreate)
	return entry, nil
}

func (s *service) DeleteAllowListEntry(ctx context.Context, siteID, entryID string) (err error) {
	defer func() { metrics.IncManagementOperation(EntityAllowList, models.ActionDelete, err) }()

	st, err := s.repo.GetSite(ctx, siteID)
	if err != nil {
		return wrapRepoError(err)
	}
	if err := s.repo.DeleteAllowListEntry(ctx, siteID, entryID); err != nil {
		return wrapRepoError(err)
	}

	s.siteChanged(ctx, st, EntityAllowList, entryID, models.ActionDelete)
	return nil
}

var variantOrder = []cloaking.VariantType{cloaking.VariantSafe, cloaking.VariantMoney, cloaking.VariantWarning}

func (s *service) ListVariants(ctx context.Context, siteID string) ([]site.Variant, error) {
	if s.variants == nil {
		return nil, errVariantsDisabled
	}
	if _, err := s.repo.GetSite(ctx, siteID); err != nil {
		return nil, wrapRepoError(err)
	}
	byType, err := s.variants.GetVariants(ctx, siteID)
	if err != nil {
		return nil, wrapRepoError(err)
	}

	variants := make([]site.Variant, 0, len(byType))
	for _, vt := range variantOrder {
		if v, ok := byType[vt]; ok {
			variants = append(variants, v)
		}
	}
	return variants, nil
}

func (s *service) UpsertVariant(ctx context.Context, siteID string, variantType cloaking.VariantType, req UpsertVariantRequest) (v *site.Variant, err error) {
	defer func() { metrics.IncManagementOperation(EntityVariant, models.ActionUpdate, err) }()

	if s.variants == nil {
		return nil, errVariantsDisabled
	}
	if err := ValidateVariant(variantType, req); err != nil {
		return nil, invalid(err)
	}
	st, err := s.repo.GetSite(ctx, siteID)
	if err != nil {
		return nil, wrapRepoError(err)
	}

	v = &site.Variant{Type: variantType, URL: req.URL, Title: req.Title}
	if err := s.variants.UpsertVariant(ctx, siteID, *v); err != nil {
		return nil, wrapRepoError(err)
	}

	s.siteChanged(ctx, st, EntityVariant, string(variantType), models.ActionUpdate)
	return v, nil
}

func (s *service) DeleteVariant(ctx context.Context, siteID string, variantType cloaking.VariantType) (err error) {
	defer func() { metrics.IncManagementOperation(EntityVariant, models.ActionDelete, err) }()

	if s.variants == nil {
		return errVariantsDisabled
	}
	st, err := s.repo.GetSite(ctx, siteID)
	if err != nil {
		return wrapRepoError(err)
	}
	if err := s.variants.DeleteVariant(ctx, siteID, variantType); err != nil {
		return wrapRepoError(err)
	}

	s.siteChanged(ctx, st, EntityVariant, string(variantType), models.ActionDelete)
	return nil
}

func (s *service) siteChanged(ctx context.Context, st *Site, entity, entityID, action string) {
	s.announce(ctx, models.SiteConfigEvent{
		SiteID:       st.ID,
		TrackingCode: st.TrackingCode,
		Entity:       entity,
		EntityID:     entityID,
		Action:       action,
	})
}

// announce evicts the shared site cache synchronously, then publishes the
// change for collectors that cache elsewhere.
func (s *service) announce(ctx context.Context, event models.SiteConfigEvent) {
	if s.siteCache != nil {
		if err := s.siteCache.Delete(context.WithoutCancel(ctx), event.TrackingCode, event.PreviousTrackingCode); err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to evict cached site",
				"site_id", event.SiteID,
				"error", err,
			)
		}
	}
	s.configEventProducer.PublishSiteChange(ctx, event)
}

// audit failures are logged; the change itself has already been stored.
func (s *service) audit(ctx context.Context, ruleID, siteID, action string, oldRule, newRule *cloaking.Rule) {
	if s.auditRepo == nil {
		return
	}
	entry := &AuditLog{
		RuleID:    ruleID,
		SiteID:    siteID,
		Action:    action,
		ChangedBy: ChangedBy(ctx),
		OldValue:  ruleToMap(oldRule),
		NewValue:  ruleToMap(newRule),
	}
	if err := s.auditRepo.CreateAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to write rule audit log",
			"rule_id", ruleID,
			"action", action,
			"error", err,
		)
	}
}

func ruleToMap(rule *cloaking.Rule) map[string]interface{} {
	if rule == nil {
		return nil
	}
	data, err := json.Marshal(rule)
	if err != nil {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// wrapRepoError keeps application errors (not found, conflict, validation)
// and turns anything else into an internal error.
func wrapRepoError(err error) error {
	var appErr *pkgerrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
}

func newTrackingCode() string {
	return trackingCodePrefix + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

type changedByKey struct{}

// WithChangedBy records who is making a change, for audit entries.
func WithChangedBy(ctx context.Context, who string) context.Context {
	return context.WithValue(ctx, changedByKey{}, who)
}

func ChangedBy(ctx context.Context) string {
	if who, ok := ctx.Value(changedByKey{}).(string); ok && who != "" {
		return who
	}
	return "system"
}

// invalid keeps the validation reason visible to API callers.
func invalid(err error) error {
	return pkgerrors.ErrValidation.WithCause(err).WithDetail("reason", err.Error())
}
