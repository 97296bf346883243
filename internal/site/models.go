package site

import (
	"pixelgate/internal/botdetect"
	"pixelgate/internal/cloaking"
	apperrors "pixelgate/pkg/errors"
)

var (
	ErrMissingTrackingCode = apperrors.Rejection("missing_tracking_code")
	ErrSiteNotFound        = apperrors.Rejection("invalid_tracking_code")
	ErrSiteInactive        = apperrors.Rejection("site_inactive")
)

// Variant is one entry of the content variant registry.
type Variant struct {
	Type  cloaking.VariantType `json:"type" bson:"type"`
	URL   string               `json:"url" bson:"url"`
	Title string               `json:"title,omitempty" bson:"title,omitempty"`
}

// Site is the resolved configuration for one tracking code. Rules hold only
// active rules, in evaluation order.
type Site struct {
	ID                         string                           `json:"id"`
	TrackingCode               string                           `json:"tracking_code"`
	Name                       string                           `json:"name"`
	Domain                     string                           `json:"domain"`
	Active                     bool                             `json:"active"`
	CloakingEnabled            bool                             `json:"cloaking_enabled"`
	InteractionTrackingEnabled bool                             `json:"interaction_tracking_enabled"`
	Rules                      []cloaking.Rule                  `json:"rules"`
	Variants                   map[cloaking.VariantType]Variant `json:"variants,omitempty"`
	AllowList                  botdetect.AllowList              `json:"allow_list"`
}

// VariantURL returns the URL the caller should serve for action, if any.
func (s *Site) VariantURL(action cloaking.Action) string {
	vt, ok := action.Variant()
	if !ok {
		return ""
	}
	return s.Variants[vt].URL
}
