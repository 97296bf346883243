package management

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pixelgate/internal/cloaking"
	"pixelgate/internal/constants"
	"pixelgate/internal/logger"
	"pixelgate/pkg/cel"
	"pixelgate/pkg/errors"
)

// ChangedByHeader names the operator recorded in rule audit logs.
const ChangedByHeader = "X-Changed-By"

type BaseHandler struct {
	Service Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}

	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *BaseHandler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err).WithDetail("reason", err.Error())))
}

type Handler struct {
	BaseHandler
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1", changedBy)
	{
		v1.GET("/matcher-examples", h.MatcherExamples)

		sites := v1.Group("/sites")
		{
			sites.GET("", h.ListSites)
			sites.POST("", h.CreateSite)
			sites.GET("/:id", h.GetSite)
			sites.PUT("/:id", h.UpdateSite)
			sites.DELETE("/:id", h.DeleteSite)

			sites.GET("/:id/rules", h.ListRules)
			sites.POST("/:id/rules", h.CreateRule)
			sites.PUT("/:id/rule-order", h.ReorderRules)
			sites.GET("/:id/rules/:ruleId", h.GetRule)
			sites.PUT("/:id/rules/:ruleId", h.UpdateRule)
			sites.PUT("/:id/rules/:ruleId/status", h.SetRuleStatus)
			sites.DELETE("/:id/rules/:ruleId", h.DeleteRule)
			sites.GET("/:id/rules/:ruleId/audit", h.GetRuleAuditLogs)

			sites.GET("/:id/allow-list", h.ListAllowList)
			sites.POST("/:id/allow-list", h.AddAllowListEntry)
			sites.DELETE("/:id/allow-list/:entryId", h.DeleteAllowListEntry)

			sites.GET("/:id/variants", h.ListVariants)
			sites.PUT("/:id/variants/:type", h.UpsertVariant)
			sites.DELETE("/:id/variants/:type", h.DeleteVariant)
		}
	}
}

func changedBy(c *gin.Context) {
	if who := c.GetHeader(ChangedByHeader); who != "" {
		c.Request = c.Request.WithContext(WithChangedBy(c.Request.Context(), who))
	}
	c.Next()
}

// ListSites godoc
// @Summary      List sites
// @Description  Get every tracked site
// @Tags         sites
// @Produce      json
// @Success      200  {array}   Site
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /sites [get]
func (h *Handler) ListSites(c *gin.Context) {
	sites, err := h.Service.ListSites(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, sites)
}

// CreateSite godoc
// @Summary      Create a site
// @Description  Register a website. A tracking code is generated when none is given.
// @Tags         sites
// @Accept       json
// @Produce      json
// @Param        site  body      CreateSiteRequest  true  "Site data"
// @Success      201   {object}  Site
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /sites [post]
func (h *Handler) CreateSite(c *gin.Context) {
	var req CreateSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	st, err := h.Service.CreateSite(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, st)
}

// GetSite godoc
// @Summary      Get a site
// @Tags         sites
// @Produce      json
// @Param        id   path      string  true  "Site ID"
// @Success      200  {object}  Site
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /sites/{id} [get]
func (h *Handler) GetSite(c *gin.Context) {
	st, err := h.Service.GetSite(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// UpdateSite godoc
// @Summary      Update a site
// @Description  Change site settings. Collectors drop their cached copy of the site.
// @Tags         sites
// @Accept       json
// @Produce      json
// @Param        id    path      string             true  "Site ID"
// @Param        site  body      UpdateSiteRequest  true  "Fields to change"
// @Success      200   {object}  Site
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /sites/{id} [put]
func (h *Handler) UpdateSite(c *gin.Context) {
	var req UpdateSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	st, err := h.Service.UpdateSite(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

// DeleteSite godoc
// @Summary      Delete a site
// @Description  Remove a site with its rules, allow list and content variants
// @Tags         sites
// @Param        id   path  string  true  "Site ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /sites/{id} [delete]
func (h *Handler) DeleteSite(c *gin.Context) {
	if err := h.Service.DeleteSite(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListRules godoc
// @Summary      List cloaking rules
// @Description  Get a site's rules in evaluation order, paused rules included
// @Tags         rules
// @Produce      json
// @Param        id   path      string  true  "Site ID"
// @Success      200  {object}  RuleList
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /sites/{id}/rules [get]
func (h *Handler) ListRules(c *gin.Context) {
	list, err := h.Service.ListRules(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// CreateRule godoc
// @Summary      Create a cloaking rule
// @Description  Append a rule to the end of the site's evaluation order
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id    path      string             true  "Site ID"
// @Param        rule  body      CreateRuleRequest  true  "Rule data"
// @Success      201   {object}  cloaking.Rule
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /sites/{id}/rules [post]
func (h *Handler) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	rule, err := h.Service.CreateRule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// GetRule godoc
// @Summary      Get a cloaking rule
// @Tags         rules
// @Produce      json
// @Param        id      path      string  true  "Site ID"
// @Param        ruleId  path      string  true  "Rule ID"
// @Success      200     {object}  cloaking.Rule
// @Failure      404     {object}  errors.ErrorResponse
// @Failure      500     {object}  errors.ErrorResponse
// @Router       /sites/{id}/rules/{ruleId} [get]
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.Service.GetRule(c.Request.Context(), c.Param("id"), c.Param("ruleId"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule godoc
// @Summary      Update a cloaking rule
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id      path      string             true  "Site ID"
// @Param        ruleId  path      string             true  "Rule ID"
// @Param        rule    body      UpdateRuleRequest  true  "Fields to change"
// @Success      200     {object}  cloaking.Rule
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      404     {object}  errors.ErrorResponse
// @Failure      500     {object}  errors.ErrorResponse
// @Router       /sites/{id}/rules/{ruleId} [put]
func (h *Handler) UpdateRule(c *gin.Context) {
	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	rule, err := h.Service.UpdateRule(c.Request.Context(), c.Param("id"), c.Param("ruleId"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// SetRuleStatus godoc
// @Summary      Pause or resume a cloaking rule
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id      path      string                true  "Site ID"
// @Param        ruleId  path      string                true  "Rule ID"
// @Param        status  body      SetRuleStatusRequest  true  "active or paused"
// @Success      200     {object}  cloaking.Rule
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      404     {object}  errors.ErrorResponse
// @Failure      500     {object}  errors.ErrorResponse
// @Router       /sites/{id}/rules/{ruleId}/status [put]
func (h *Handler) SetRuleStatus(c *gin.Context) {
	var req SetRuleStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	rule, err := h.Service.SetRuleStatus(c.Request.Context(), c.Param("id"), c.Param("ruleId"), cloaking.RuleStatus(req.Status))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// ReorderRules godoc
// @Summary      Reorder cloaking rules
// @Description  Replace the evaluation order. rule_ids must list every rule of the site exactly once.
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id     path      string               true  "Site ID"
// @Param        order  body      ReorderRulesRequest  true  "Rule IDs in evaluation order"
// @Success      200    {object}  RuleList
// @Failure      400    {object}  errors.ErrorResponse
// @Failure      404    {object}  errors.ErrorResponse
// @Failure      500    {object}  errors.ErrorResponse
// @Router       /sites/{id}/rule-order [put]
func (h *Handler) ReorderRules(c *gin.Context) {
	var req ReorderRulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	list, err := h.Service.ReorderRules(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

// DeleteRule godoc
// @Summary      Delete a cloaking rule
// @Tags         rules
// @Param        id      path  string  true  "Site ID"
// @Param        ruleId  path  string  true  "Rule ID"
// @Success      204     "No Content"
// @Failure      404     {object}  errors.ErrorResponse
// @Failure      500     {object}  errors.ErrorResponse
// @Router       /sites/{id}/rules/{ruleId} [delete]
func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.Service.DeleteRule(c.Request.Context(), c.Param("id"), c.Param("ruleId")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRuleAuditLogs godoc
// @Summary      Get rule audit logs
// @Description  Get the change history of a rule, newest first
// @Tags         rules
// @Produce      json
// @Param        id      path      string  true   "Site ID"
// @Param        ruleId  path      string  true   "Rule ID"
// @Param        limit   query     int     false  "Maximum number of entries"  default(100)
// @Success      200     {array}   AuditLog
// @Failure      404     {object}  errors.ErrorResponse
// @Failure      500     {object}  errors.ErrorResponse
// @Failure      503     {object}  errors.ErrorResponse
// @Router       /sites/{id}/rules/{ruleId}/audit [get]
func (h *Handler) GetRuleAuditLogs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(constants.DefaultLimit)))
	if err != nil {
		limit = constants.DefaultLimit
	}

	logs, err := h.Service.GetRuleAuditLogs(c.Request.Context(), c.Param("id"), c.Param("ruleId"), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// ListAllowList godoc
// @Summary      List allow-list entries
// @Tags         allow-list
// @Produce      json
// @Param        id   path      string  true  "Site ID"
// @Success      200  {array}   AllowListEntry
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /sites/{id}/allow-list [get]
func (h *Handler) ListAllowList(c *gin.Context) {
	entries, err := h.Service.ListAllowList(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// AddAllowListEntry godoc
// @Summary      Add an allow-list entry
// @Description  Allow an agent substring or an IP address or CIDR prefix past bot detection
// @Tags         allow-list
// @Accept       json
// @Produce      json
// @Param        id     path      string                       true  "Site ID"
// @Param        entry  body      CreateAllowListEntryRequest  true  "Entry data"
// @Success      201    {object}  AllowListEntry
// @Failure      400    {object}  errors.ErrorResponse
// @Failure      404    {object}  errors.ErrorResponse
// @Failure      409    {object}  errors.ErrorResponse
// @Failure      500    {object}  errors.ErrorResponse
// @Router       /sites/{id}/allow-list [post]
func (h *Handler) AddAllowListEntry(c *gin.Context) {
	var req CreateAllowListEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	entry, err := h.Service.AddAllowListEntry(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

// DeleteAllowListEntry godoc
// @Summary      Delete an allow-list entry
// @Tags         allow-list
// @Param        id       path  string  true  "Site ID"
// @Param        entryId  path  string  true  "Entry ID"
// @Success      204      "No Content"
// @Failure      404      {object}  errors.ErrorResponse
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /sites/{id}/allow-list/{entryId} [delete]
func (h *Handler) DeleteAllowListEntry(c *gin.Context) {
	if err := h.Service.DeleteAllowListEntry(c.Request.Context(), c.Param("id"), c.Param("entryId")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListVariants godoc
// @Summary      List content variants
// @Tags         variants
// @Produce      json
// @Param        id   path      string  true  "Site ID"
// @Success      200  {array}   site.Variant
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /sites/{id}/variants [get]
func (h *Handler) ListVariants(c *gin.Context) {
	variants, err := h.Service.ListVariants(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, variants)
}

// UpsertVariant godoc
// @Summary      Set a content variant
// @Description  Set the page served for safe, money or warning actions
// @Tags         variants
// @Accept       json
// @Produce      json
// @Param        id       path      string                true  "Site ID"
// @Param        type     path      string                true  "Variant type"  Enums(safe, money, warning)
// @Param        variant  body      UpsertVariantRequest  true  "Variant data"
// @Success      200      {object}  site.Variant
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      404      {object}  errors.ErrorResponse
// @Failure      500      {object}  errors.ErrorResponse
// @Failure      503      {object}  errors.ErrorResponse
// @Router       /sites/{id}/variants/{type} [put]
func (h *Handler) UpsertVariant(c *gin.Context) {
	var req UpsertVariantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	v, err := h.Service.UpsertVariant(c.Request.Context(), c.Param("id"), cloaking.VariantType(c.Param("type")), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, v)
}

// DeleteVariant godoc
// @Summary      Delete a content variant
// @Tags         variants
// @Param        id    path  string  true  "Site ID"
// @Param        type  path  string  true  "Variant type"  Enums(safe, money, warning)
// @Success      204   "No Content"
// @Failure      404   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Failure      503   {object}  errors.ErrorResponse
// @Router       /sites/{id}/variants/{type} [delete]
func (h *Handler) DeleteVariant(c *gin.Context) {
	if err := h.Service.DeleteVariant(c.Request.Context(), c.Param("id"), cloaking.VariantType(c.Param("type"))); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MatcherExamples godoc
// @Summary      Expression matcher examples
// @Description  Sample conditions for rules with match_kind "expression"
// @Tags         rules
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /matcher-examples [get]
func (h *Handler) MatcherExamples(c *gin.Context) {
	c.JSON(http.StatusOK, cel.RuleExpressionExamples)
}
