package reporter

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"aem-reporter/internal/aem"
	"aem-reporter/internal/cache"
	"aem-reporter/internal/graph"
	"aem-reporter/internal/observability"
	"aem-reporter/internal/storage"
)

const (
	DefaultRefreshCooldown        = 24 * time.Hour
	DefaultRetentionWindow        = 24 * time.Hour
	DefaultRetainedConfigsPerMode = 1

	requestTimeout = 30 * time.Second
	flushPoll      = 5 * time.Millisecond
)

// Transport performs graph requests on behalf of the reporter.
type Transport interface {
	Do(ctx context.Context, req graph.Request) (map[string]any, error)
}

// Store persists reporter state blobs. Load returns nil, nil for a missing key.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

type Options struct {
	AppID     string
	Transport Transport
	Store     Store // defaults to an in-memory store
	Now       func() time.Time

	RefreshCooldown        time.Duration
	RetentionWindow        time.Duration
	RetainedConfigsPerMode int
}

// Status is a point-in-time view of the reporter for health and API reads.
type Status struct {
	Enabled              bool           `json:"enabled"`
	Invocations          int            `json:"invocations"`
	PendingAggregation   int            `json:"pending_aggregation"`
	Configurations       map[string]int `json:"configurations"`
	LoadingConfiguration bool           `json:"loading_configuration"`
	LastRefresh          *time.Time     `json:"last_refresh,omitempty"`
}

// Reporter owns invocation and configuration state. Every mutation runs on a
// single worker goroutine; mu additionally guards reads from other goroutines.
type Reporter struct {
	appID     string
	transport Transport
	store     Store
	now       func() time.Time
	cooldown  time.Duration
	retention time.Duration
	retained  int

	mu          sync.Mutex
	enabled     bool
	invocations []*aem.Invocation
	configs     map[string][]*aem.Configuration
	loading     bool
	lastRefresh *time.Time
	completions []func(error)
	reporting   map[*aem.Invocation]struct{}

	status cache.Snapshot[Status]

	ctx      context.Context
	cancel   context.CancelFunc
	qmu      sync.Mutex
	pending  []func()
	closed   bool
	wake     chan struct{}
	stopped  chan struct{}
	inflight int // worker only
}

func New(opts Options) (*Reporter, error) {
	if opts.AppID == "" {
		return nil, errors.New("reporter: app id is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("reporter: transport is required")
	}
	if opts.Store == nil {
		opts.Store = storage.NewMemory()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RefreshCooldown <= 0 {
		opts.RefreshCooldown = DefaultRefreshCooldown
	}
	if opts.RetentionWindow <= 0 {
		opts.RetentionWindow = DefaultRetentionWindow
	}
	if opts.RetainedConfigsPerMode <= 0 {
		opts.RetainedConfigsPerMode = DefaultRetainedConfigsPerMode
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		appID:     opts.AppID,
		transport: opts.Transport,
		store:     opts.Store,
		now:       opts.Now,
		cooldown:  opts.RefreshCooldown,
		retention: opts.RetentionWindow,
		retained:  opts.RetainedConfigsPerMode,
		configs:   map[string][]*aem.Configuration{},
		reporting: map[*aem.Invocation]struct{}{},
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}

	r.mu.Lock()
	r.invocations = r.loadInvocations()
	r.configs = r.loadConfigs()
	r.publishLocked()
	r.mu.Unlock()

	go r.loop()
	return r, nil
}

// Close stops the worker after it drains already queued tasks. Outstanding
// network calls are cancelled and pending completions receive ErrClosed.
func (r *Reporter) Close() {
	r.cancel()
	r.qmu.Lock()
	r.closed = true
	r.qmu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
	<-r.stopped

	r.mu.Lock()
	r.loading = false
	callbacks := r.takeCompletionsLocked()
	r.mu.Unlock()
	drain(callbacks, ErrClosed)
}

func (r *Reporter) Enable()  { r.setEnabled(true) }
func (r *Reporter) Disable() { r.setEnabled(false) }

func (r *Reporter) setEnabled(v bool) {
	r.mu.Lock()
	r.enabled = v
	r.publishLocked()
	r.mu.Unlock()
	log.Info().Bool("enabled", v).Msg("aem reporter toggled")
}

func (r *Reporter) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

func (r *Reporter) Status() Status { return r.status.Load() }

// Invocations returns copies of the tracked invocations in arrival order.
func (r *Reporter) Invocations() []*aem.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*aem.Invocation, len(r.invocations))
	for i, inv := range r.invocations {
		out[i] = inv.Clone()
	}
	return out
}

// Configs returns the catalog. Configurations are immutable and shared.
func (r *Reporter) Configs() map[string][]*aem.Configuration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]*aem.Configuration, len(r.configs))
	for mode, list := range r.configs {
		out[mode] = append([]*aem.Configuration(nil), list...)
	}
	return out
}

// Handle records the invocation carried by a campaign deep link. Links
// without valid app link data are ignored.
func (r *Reporter) Handle(rawURL string) {
	if !r.IsEnabled() {
		return
	}
	inv, err := ParseURL(rawURL, r.now())
	if err != nil {
		log.Debug().Err(err).Msg("deep link ignored")
		return
	}
	r.dispatch(func() { r.addInvocation(inv) })
}

func (r *Reporter) addInvocation(inv *aem.Invocation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.invocations[:0:0]
	for _, existing := range r.invocations {
		if existing.CampaignID == inv.CampaignID {
			continue
		}
		kept = append(kept, existing)
	}
	r.invocations = append(kept, inv)
	r.saveInvocationsLocked()
	r.publishLocked()
	log.Info().Str("campaign_id", inv.CampaignID).Str("mode", inv.ConfigMode()).Msg("invocation recorded")
}

// RecordAndUpdateEvent offers an app event to every pending invocation once
// configuration is available. It returns immediately.
func (r *Reporter) RecordAndUpdateEvent(name, currency string, value float64, params map[string]any) {
	if name == "" || !r.IsEnabled() {
		return
	}
	ev := aem.Event{Name: name, Currency: currency, Value: value, Parameters: params}
	r.LoadConfiguration(func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("event", name).Msg("configuration unavailable, using cached catalog")
		}
		r.attribute(ev)
	})
}

func (r *Reporter) attribute(ev aem.Event) {
	r.mu.Lock()
	if len(r.configs) == 0 {
		r.mu.Unlock()
		return
	}
	if !catalogHasEvent(r.configs, ev.Name) {
		r.mu.Unlock()
		observability.Attributions.WithLabelValues("ignored").Inc()
		return
	}
	now := r.now()
	changed := false
	for _, inv := range r.invocations {
		if inv.IsAggregated {
			continue
		}
		if inv.Attribute(ev, r.configs, now) {
			changed = true
			observability.Attributions.WithLabelValues("matched").Inc()
			log.Debug().Str("campaign_id", inv.CampaignID).Str("event", ev.Name).
				Int("conversion_value", inv.ConversionValue).Msg("event attributed")
		} else {
			observability.Attributions.WithLabelValues("unmatched").Inc()
		}
	}
	if changed {
		r.saveInvocationsLocked()
		r.publishLocked()
	}
	r.mu.Unlock()

	if changed {
		r.sendAggregation()
	}
}

// LoadConfiguration refreshes the catalog unless it was refreshed within the
// cooldown. done, if set, runs on the worker once the outcome is known and
// must not block on the reporter.
func (r *Reporter) LoadConfiguration(done func(error)) {
	r.RefreshConfiguration(false, done)
}

// RefreshConfiguration is LoadConfiguration with an optional cooldown bypass.
// Concurrent callers share one in-flight request.
func (r *Reporter) RefreshConfiguration(force bool, done func(error)) {
	if !r.dispatch(func() { r.loadConfiguration(force, done) }) && done != nil {
		done(ErrClosed)
	}
}

func (r *Reporter) loadConfiguration(force bool, done func(error)) {
	r.mu.Lock()
	if done != nil {
		r.completions = append(r.completions, done)
	}
	if r.loading {
		r.mu.Unlock()
		return
	}
	if !force && r.refreshTimestampValidLocked() {
		callbacks := r.takeCompletionsLocked()
		r.mu.Unlock()
		drain(callbacks, nil)
		return
	}
	r.loading = true
	params := map[string]any{"fields": ""}
	if ids := r.advertiserIDsLocked(); len(ids) > 0 {
		params["advertiser_ids"] = ids
	}
	r.publishLocked()
	r.mu.Unlock()

	r.call(graph.Request{
		Path:   r.appID + "/" + graph.ConfigsEdge,
		Method: http.MethodGet,
		Params: params,
	}, r.applyConfigs)
}

func (r *Reporter) applyConfigs(res map[string]any, err error) {
	r.mu.Lock()
	r.loading = false
	if err != nil && r.ctx.Err() != nil {
		err = ErrClosed
	}
	if err != nil {
		callbacks := r.takeCompletionsLocked()
		r.publishLocked()
		r.mu.Unlock()
		observability.ConfigRefreshes.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("configuration refresh failed")
		drain(callbacks, err)
		return
	}

	data, _ := res["data"].([]any)
	for _, raw := range data {
		cfg, perr := aem.ParseConfiguration(raw)
		if perr != nil {
			log.Warn().Err(perr).Msg("skipping invalid configuration")
			continue
		}
		insertConfig(r.configs, cfg)
	}
	now := r.now()
	r.lastRefresh = &now
	r.saveConfigsLocked()
	callbacks := r.takeCompletionsLocked()
	r.publishLocked()
	r.mu.Unlock()

	observability.ConfigRefreshes.WithLabelValues("success").Inc()
	log.Info().Int("received", len(data)).Msg("configuration refreshed")
	drain(callbacks, nil)
}

func (r *Reporter) refreshTimestampValidLocked() bool {
	return r.lastRefresh != nil && r.now().Sub(*r.lastRefresh) < r.cooldown
}

func (r *Reporter) takeCompletionsLocked() []func(error) {
	callbacks := r.completions
	r.completions = nil
	return callbacks
}

func drain(callbacks []func(error), err error) {
	for _, cb := range callbacks {
		cb(err)
	}
}

func (r *Reporter) advertiserIDsLocked() []string {
	seen := map[string]struct{}{}
	var ids []string
	for _, inv := range r.invocations {
		if inv.AdvertiserID == nil || *inv.AdvertiserID == "" {
			continue
		}
		if _, ok := seen[*inv.AdvertiserID]; ok {
			continue
		}
		seen[*inv.AdvertiserID] = struct{}{}
		ids = append(ids, *inv.AdvertiserID)
	}
	return ids
}

// Run drives the periodic cycle until ctx is done.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.tick()
		}
	}
}

func (r *Reporter) tick() {
	if !r.IsEnabled() {
		return
	}
	r.RefreshConfiguration(false, nil)
	r.ClearCache()
	r.SendAggregationRequest()
}

func (r *Reporter) publishLocked() {
	st := Status{
		Enabled:              r.enabled,
		Invocations:          len(r.invocations),
		Configurations:       make(map[string]int, len(r.configs)),
		LoadingConfiguration: r.loading,
	}
	for _, inv := range r.invocations {
		if !inv.IsAggregated {
			st.PendingAggregation++
		}
	}
	observability.Configurations.Reset()
	for mode, list := range r.configs {
		st.Configurations[mode] = len(list)
		observability.Configurations.WithLabelValues(mode).Set(float64(len(list)))
	}
	if r.lastRefresh != nil {
		t := *r.lastRefresh
		st.LastRefresh = &t
	}
	observability.Invocations.Set(float64(st.Invocations))
	r.status.Store(st)
}
