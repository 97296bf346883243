package collector

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelgate/internal/botdetect"
	"pixelgate/internal/cloaking"
	"pixelgate/internal/config"
	"pixelgate/internal/geo"
	"pixelgate/internal/logger"
	"pixelgate/internal/outcome"
	"pixelgate/internal/signals"
	"pixelgate/internal/site"
	apperrors "pixelgate/pkg/errors"
)

const (
	chromeDesktop = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	iphoneSafari  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
	googlebot     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

type fakeResolver struct {
	sites map[string]*site.Site
}

func (f *fakeResolver) Resolve(ctx context.Context, code string) (*site.Site, error) {
	if code == "" {
		return nil, site.ErrMissingTrackingCode
	}
	s, ok := f.sites[code]
	if !ok {
		return nil, site.ErrSiteNotFound
	}
	if !s.Active {
		return nil, site.ErrSiteInactive
	}
	return s, nil
}

type memStore struct {
	mu           sync.Mutex
	bots         []*outcome.BotDetection
	events       []*outcome.AnalyticsEvent
	interactions []*outcome.Interaction
	err          error
	ctxErr       error
}

func (m *memStore) SaveBotDetection(ctx context.Context, d *outcome.BotDetection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErr = ctx.Err()
	if m.err != nil {
		return m.err
	}
	m.bots = append(m.bots, d)
	return nil
}

func (m *memStore) SaveAnalyticsEvent(ctx context.Context, e *outcome.AnalyticsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErr = ctx.Err()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) SaveInteraction(ctx context.Context, i *outcome.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.interactions = append(m.interactions, i)
	return nil
}

func (m *memStore) rows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bots) + len(m.events) + len(m.interactions)
}

type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
	err  error
}

func newHitCounter() *hitCounter {
	return &hitCounter{hits: map[string]int{}}
}

func (h *hitCounter) RecordHit(ctx context.Context, ruleID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.hits[ruleID]++
	return nil
}

func (h *hitCounter) count(ruleID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[ruleID]
}

type fixture struct {
	svc   *Service
	sites *fakeResolver
	store *memStore
	hits  *hitCounter
}

func newFixture(t *testing.T, sites ...*site.Site) *fixture {
	t.Helper()
	log := logger.NopLogger()
	engine, err := cloaking.NewEngine(log)
	require.NoError(t, err)

	resolver := &fakeResolver{sites: map[string]*site.Site{}}
	for _, s := range sites {
		resolver.sites[s.TrackingCode] = s
	}
	store := &memStore{}
	hits := newHitCounter()
	cfg := config.CollectorConfig{
		IPHeaders:        config.DefaultIPHeaders,
		PersistTimeoutMs: 1000,
		AllowListEnabled: true,
	}

	svc := NewService(Dependencies{
		Sites:      resolver,
		Normalizer: signals.NewNormalizer(cfg, nil, log),
		Classifier: botdetect.NewClassifier(),
		Engine:     engine,
		Hits:       hits,
		Store:      store,
	}, cfg, log)

	return &fixture{svc: svc, sites: resolver, store: store, hits: hits}
}

func activeRule(id, name string, trigger cloaking.TriggerKind, value string, action cloaking.Action) cloaking.Rule {
	return cloaking.Rule{
		ID:      id,
		SiteID:  "site-1",
		Name:    name,
		Trigger: trigger,
		Matcher: cloaking.Matcher{Kind: cloaking.MatchSubstring, Value: value},
		Action:  action,
		Status:  cloaking.StatusActive,
	}
}

func cloakedSite(rules ...cloaking.Rule) *site.Site {
	return &site.Site{
		ID:                         "site-1",
		TrackingCode:               "PX-1",
		Active:                     true,
		CloakingEnabled:            true,
		InteractionTrackingEnabled: true,
		Rules:                      rules,
		Variants: map[cloaking.VariantType]site.Variant{
			cloaking.VariantSafe:  {Type: cloaking.VariantSafe, URL: "https://example.com/safe"},
			cloaking.VariantMoney: {Type: cloaking.VariantMoney, URL: "https://example.com/offer"},
		},
	}
}

func meta(ip string) RequestMeta {
	h := http.Header{}
	if ip != "" {
		h.Set("X-Forwarded-For", ip)
	}
	return RequestMeta{Header: h, RemoteAddr: "10.0.0.1:5555"}
}

func TestTrack_BotShortCircuitsRules(t *testing.T) {
	f := newFixture(t, cloakedSite(
		activeRule("r1", "everyone", cloaking.TriggerUserAgent, "Mozilla", cloaking.ActionMoneyPage),
	))

	res, err := f.svc.Track(context.Background(), EventRequest{
		TrackingCode: "PX-1",
		UserAgent:    googlebot,
		VisitorID:    "v1",
	}, meta("8.8.8.8"))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.Blocked)
	assert.Equal(t, botdetect.ReasonAgentPattern, res.Reason)
	assert.Empty(t, res.Action)

	require.Len(t, f.store.bots, 1)
	assert.Empty(t, f.store.events)
	assert.Equal(t, botdetect.ReasonAgentPattern, f.store.bots[0].Reason)
	assert.Equal(t, "bot", f.store.bots[0].Signature)
	assert.Equal(t, "v1", f.store.bots[0].VisitorID)
	assert.Equal(t, 0, f.hits.count("r1"))
}

func TestTrack_BlockRuleWritesBotDetection(t *testing.T) {
	f := newFixture(t, cloakedSite(
		activeRule("r1", "mobile block", cloaking.TriggerDeviceType, "mobile", cloaking.ActionBlock),
	))

	res, err := f.svc.Track(context.Background(), EventRequest{
		TrackingCode: "PX-1",
		UserAgent:    iphoneSafari,
	}, meta("8.8.8.8"))
	require.NoError(t, err)

	assert.True(t, res.Blocked)
	assert.Equal(t, cloaking.ActionBlock, res.Action)
	assert.Equal(t, "cloaking rule: mobile block", res.Reason)

	require.Len(t, f.store.bots, 1)
	assert.Empty(t, f.store.events)
	assert.Equal(t, "cloaking rule: mobile block", f.store.bots[0].Reason)
	assert.Equal(t, cloaking.ActionBlock, f.store.bots[0].Action)
	assert.Equal(t, "r1", f.store.bots[0].RuleID)
	assert.Equal(t, 1, f.hits.count("r1"))
}

func TestTrack_FirstMatchingRuleWins(t *testing.T) {
	f := newFixture(t, cloakedSite(
		activeRule("r1", "chrome", cloaking.TriggerUserAgent, "Chrome", cloaking.ActionSafePage),
		activeRule("r2", "windows", cloaking.TriggerUserAgent, "Windows", cloaking.ActionMoneyPage),
	))

	res, err := f.svc.Track(context.Background(), EventRequest{
		TrackingCode: "PX-1",
		UserAgent:    chromeDesktop,
	}, meta("8.8.8.8"))
	require.NoError(t, err)

	assert.False(t, res.Blocked)
	assert.Equal(t, cloaking.ActionSafePage, res.Action)
	assert.Equal(t, "https://example.com/safe", res.VariantURL)
	assert.Equal(t, "Chrome", res.Browser)
	assert.Equal(t, "Windows", res.OS)
	assert.Equal(t, "desktop", res.DeviceType)
	assert.Equal(t, "8.8.8.8", res.IPAddress)
	assert.Equal(t, "Unknown", res.Country)

	require.Len(t, f.store.events, 1)
	assert.Equal(t, cloaking.ActionSafePage, f.store.events[0].Action)
	assert.Equal(t, "r1", f.store.events[0].RuleID)
	assert.Equal(t, DefaultEventType, f.store.events[0].EventType)
	assert.Equal(t, 1, f.hits.count("r1"))
	assert.Equal(t, 0, f.hits.count("r2"))
}

func TestTrack_PausedRuleIsSkipped(t *testing.T) {
	paused := activeRule("r1", "chrome", cloaking.TriggerUserAgent, "Chrome", cloaking.ActionBlock)
	paused.Status = cloaking.StatusPaused
	f := newFixture(t, cloakedSite(
		paused,
		activeRule("r2", "windows", cloaking.TriggerUserAgent, "Windows", cloaking.ActionMoneyPage),
	))

	res, err := f.svc.Track(context.Background(), EventRequest{TrackingCode: "PX-1", UserAgent: chromeDesktop}, meta("8.8.8.8"))
	require.NoError(t, err)

	assert.Equal(t, cloaking.ActionMoneyPage, res.Action)
	assert.Equal(t, "https://example.com/offer", res.VariantURL)
	assert.Equal(t, 0, f.hits.count("r1"))
	assert.Equal(t, 1, f.hits.count("r2"))
}

func TestTrack_CloakingDisabledRecordsUntaggedEvent(t *testing.T) {
	s := cloakedSite(activeRule("r1", "chrome", cloaking.TriggerUserAgent, "Chrome", cloaking.ActionBlock))
	s.CloakingEnabled = false
	f := newFixture(t, s)

	res, err := f.svc.Track(context.Background(), EventRequest{
		TrackingCode: "PX-1",
		EventType:    "signup",
		UserAgent:    chromeDesktop,
	}, meta("8.8.8.8"))
	require.NoError(t, err)

	assert.False(t, res.Blocked)
	assert.Empty(t, res.Action)
	assert.Empty(t, res.VariantURL)
	require.Len(t, f.store.events, 1)
	assert.Empty(t, f.store.events[0].Action)
	assert.Empty(t, f.store.events[0].RuleID)
	assert.Equal(t, "signup", f.store.events[0].EventType)
	assert.Equal(t, 0, f.hits.count("r1"))
}

func TestTrack_Rejections(t *testing.T) {
	inactive := cloakedSite()
	inactive.TrackingCode = "PX-OFF"
	inactive.Active = false

	tests := []struct {
		name    string
		code    string
		wantErr error
		wantMsg string
	}{
		{name: "missing", code: "", wantErr: site.ErrMissingTrackingCode, wantMsg: "missing_tracking_code"},
		{name: "unknown", code: "PX-404", wantErr: site.ErrSiteNotFound, wantMsg: "invalid_tracking_code"},
		{name: "inactive", code: "PX-OFF", wantErr: site.ErrSiteInactive, wantMsg: "site_inactive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, cloakedSite(), inactive)

			res, err := f.svc.Track(context.Background(), EventRequest{TrackingCode: tt.code, UserAgent: googlebot}, meta("8.8.8.8"))
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, http.StatusBadRequest, apperrors.ToHTTPStatus(err))
			assert.Equal(t, tt.wantMsg, apperrors.ToErrorResponse(err)["error"])
			assert.Equal(t, 0, f.store.rows())
		})
	}
}

func TestTrack_PersistFailureIsInternal(t *testing.T) {
	f := newFixture(t, cloakedSite(
		activeRule("r1", "chrome", cloaking.TriggerUserAgent, "Chrome", cloaking.ActionSafePage),
	))
	f.store.err = errors.New("connection refused")

	res, err := f.svc.Track(context.Background(), EventRequest{TrackingCode: "PX-1", UserAgent: chromeDesktop}, meta("8.8.8.8"))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, http.StatusInternalServerError, apperrors.ToHTTPStatus(err))
	assert.Equal(t, "internal server error", apperrors.ToErrorResponse(err)["error"])
	assert.Equal(t, 0, f.hits.count("r1"))
}

func TestTrack_HitFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t, cloakedSite(
		activeRule("r1", "chrome", cloaking.TriggerUserAgent, "Chrome", cloaking.ActionSafePage),
	))
	f.hits.err = errors.New("deadlock detected")

	res, err := f.svc.Track(context.Background(), EventRequest{TrackingCode: "PX-1", UserAgent: chromeDesktop}, meta("8.8.8.8"))
	require.NoError(t, err)
	assert.Equal(t, cloaking.ActionSafePage, res.Action)
	assert.Len(t, f.store.events, 1)
}

func TestTrack_CanceledRequestStillPersists(t *testing.T) {
	f := newFixture(t, cloakedSite())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Track(ctx, EventRequest{TrackingCode: "PX-1", UserAgent: chromeDesktop}, meta("8.8.8.8"))
	require.NoError(t, err)
	require.Len(t, f.store.events, 1)
	assert.NoError(t, f.store.ctxErr)
}

func TestTrack_ConcurrentMatchesCountEveryHit(t *testing.T) {
	f := newFixture(t, cloakedSite(
		activeRule("r1", "chrome", cloaking.TriggerUserAgent, "Chrome", cloaking.ActionSafePage),
		activeRule("r2", "chrome again", cloaking.TriggerUserAgent, "Chrome", cloaking.ActionBlock),
	))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Track(context.Background(), EventRequest{TrackingCode: "PX-1", UserAgent: chromeDesktop}, meta("8.8.8.8"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, f.hits.count("r1"))
	assert.Equal(t, 0, f.hits.count("r2"))
	assert.Equal(t, n, f.store.rows())
}

func TestTrack_AllowListBypassesClassifier(t *testing.T) {
	s := cloakedSite(activeRule("r1", "crawler", cloaking.TriggerUserAgent, "Googlebot", cloaking.ActionSafePage))
	s.AllowList = botdetect.AllowList{Agents: []string{"googlebot"}}
	f := newFixture(t, s)

	res, err := f.svc.Track(context.Background(), EventRequest{TrackingCode: "PX-1", UserAgent: googlebot}, meta("8.8.8.8"))
	require.NoError(t, err)

	assert.False(t, res.Blocked)
	assert.Equal(t, cloaking.ActionSafePage, res.Action)
	assert.Empty(t, f.store.bots)
	assert.Len(t, f.store.events, 1)
	assert.Equal(t, 1, f.hits.count("r1"))
}

func TestTrack_AllowListDisabled(t *testing.T) {
	s := cloakedSite()
	s.AllowList = botdetect.AllowList{Agents: []string{"googlebot"}}
	f := newFixture(t, s)
	f.svc.allowListEnabled = false

	res, err := f.svc.Track(context.Background(), EventRequest{TrackingCode: "PX-1", UserAgent: googlebot}, meta("8.8.8.8"))
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Len(t, f.store.bots, 1)
}

func TestTrack_PrivateAddressResolvesUnknownLocation(t *testing.T) {
	f := newFixture(t, cloakedSite())

	res, err := f.svc.Track(context.Background(), EventRequest{TrackingCode: "PX-1", UserAgent: chromeDesktop}, meta("192.168.1.20"))
	require.NoError(t, err)
	assert.Equal(t, "Unknown", res.Country)
	assert.Equal(t, "Unknown", res.City)
	assert.Equal(t, "192.168.1.20", res.IPAddress)
}

func float(v float64) *float64 {
	return &v
}

func TestRecordInteraction(t *testing.T) {
	disabled := cloakedSite()
	disabled.TrackingCode = "PX-NOHEAT"
	disabled.InteractionTrackingEnabled = false

	tests := []struct {
		name    string
		req     InteractionRequest
		wantErr error
		wantX   *int
		wantY   *int
	}{
		{
			name:  "truncates positions",
			req:   InteractionRequest{TrackingCode: "PX-1", EventType: "click", XPosition: float(120.9), YPosition: float(-4.7)},
			wantX: intPtr(120),
			wantY: intPtr(-4),
		},
		{
			name: "positions optional",
			req:  InteractionRequest{TrackingCode: "PX-1", EventType: "scroll"},
		},
		{
			name:  "largest storable position",
			req:   InteractionRequest{TrackingCode: "PX-1", EventType: "click", XPosition: float(2147483647.5), YPosition: float(-2147483648.9)},
			wantX: intPtr(math.MaxInt32),
			wantY: intPtr(math.MinInt32),
		},
		{
			name:    "position overflows",
			req:     InteractionRequest{TrackingCode: "PX-1", EventType: "click", XPosition: float(1e300)},
			wantErr: ErrMalformedRequest,
		},
		{
			name:    "negative position overflows",
			req:     InteractionRequest{TrackingCode: "PX-1", EventType: "click", XPosition: float(1), YPosition: float(-1e300)},
			wantErr: ErrMalformedRequest,
		},
		{
			name:    "infinite position",
			req:     InteractionRequest{TrackingCode: "PX-1", EventType: "click", YPosition: float(math.Inf(1))},
			wantErr: ErrMalformedRequest,
		},
		{
			name:    "NaN position",
			req:     InteractionRequest{TrackingCode: "PX-1", EventType: "click", XPosition: float(math.NaN())},
			wantErr: ErrMalformedRequest,
		},
		{
			name:    "invalid event type",
			req:     InteractionRequest{TrackingCode: "PX-1", EventType: "page_view"},
			wantErr: ErrInvalidEventType,
		},
		{
			name:    "tracking disabled",
			req:     InteractionRequest{TrackingCode: "PX-NOHEAT", EventType: "hover"},
			wantErr: ErrInteractionTrackingDisabled,
		},
		{
			name:    "unknown site",
			req:     InteractionRequest{TrackingCode: "nope", EventType: "click"},
			wantErr: site.ErrSiteNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, cloakedSite(), disabled)

			res, err := f.svc.RecordInteraction(context.Background(), tt.req)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, http.StatusBadRequest, apperrors.ToHTTPStatus(err))
				assert.Equal(t, 0, f.store.rows())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, &InteractionResult{Success: true, EventType: tt.req.EventType, WebsiteID: "site-1"}, res)
			require.Len(t, f.store.interactions, 1)
			assert.Equal(t, tt.wantX, f.store.interactions[0].X)
			assert.Equal(t, tt.wantY, f.store.interactions[0].Y)
		})
	}
}

func intPtr(v int) *int {
	return &v
}

type failingLocator struct{}

func (failingLocator) Lookup(ctx context.Context, ip string) (geo.Location, error) {
	return geo.Location{}, errors.New("geo api unavailable")
}

func TestTrack_GeoFailureDegradesToUnknown(t *testing.T) {
	f := newFixture(t, cloakedSite(
		activeRule("r1", "unknown country", cloaking.TriggerCountry, "Unknown", cloaking.ActionWarningPage),
	))
	cfg := config.CollectorConfig{IPHeaders: config.DefaultIPHeaders}
	f.svc.normalizer = signals.NewNormalizer(cfg, failingLocator{}, logger.NopLogger())

	res, err := f.svc.Track(context.Background(), EventRequest{TrackingCode: "PX-1", UserAgent: chromeDesktop}, meta("8.8.8.8"))
	require.NoError(t, err)
	assert.Equal(t, "Unknown", res.Country)
	assert.Equal(t, "Unknown", res.City)
	assert.Equal(t, cloaking.ActionWarningPage, res.Action)
}

type staticLocator struct {
	loc geo.Location
}

func (l staticLocator) Lookup(ctx context.Context, ip string) (geo.Location, error) {
	return l.loc, nil
}

func TestTrack_CountryCodeRuleWinsOverDeviceRule(t *testing.T) {
	f := newFixture(t, cloakedSite(
		activeRule("r1", "germany", cloaking.TriggerCountry, "DE", cloaking.ActionWarningPage),
		activeRule("r2", "phones", cloaking.TriggerDeviceType, "mobile", cloaking.ActionSafePage),
	))
	cfg := config.CollectorConfig{IPHeaders: config.DefaultIPHeaders}
	f.svc.normalizer = signals.NewNormalizer(cfg,
		staticLocator{loc: geo.Location{Country: "Germany", CountryCode: "DE", City: "Berlin"}}, logger.NopLogger())

	res, err := f.svc.Track(context.Background(), EventRequest{TrackingCode: "PX-1", UserAgent: iphoneSafari}, meta("8.8.8.8"))
	require.NoError(t, err)

	assert.Equal(t, "Germany", res.Country)
	assert.Equal(t, "mobile", res.DeviceType)
	assert.Equal(t, cloaking.ActionWarningPage, res.Action)
	require.Len(t, f.store.events, 1)
	assert.Equal(t, "r1", f.store.events[0].RuleID)
	assert.Equal(t, 1, f.hits.count("r1"))
	assert.Equal(t, 0, f.hits.count("r2"))
}
