package reporter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"aem-reporter/internal/aem"
	"aem-reporter/internal/observability"
)

const (
	ReportDataKey = "aem_report_data"
	ConfigsKey    = "aem_configs"

	storeTimeout = 5 * time.Second
)

func (r *Reporter) loadInvocations() []*aem.Invocation {
	var out []*aem.Invocation
	if !r.loadJSON(ReportDataKey, &out) {
		return nil
	}
	kept := out[:0]
	for _, inv := range out {
		if inv != nil {
			kept = append(kept, inv)
		}
	}
	return kept
}

func (r *Reporter) loadConfigs() map[string][]*aem.Configuration {
	var stored map[string][]*aem.Configuration
	configs := map[string][]*aem.Configuration{}
	if !r.loadJSON(ConfigsKey, &stored) {
		return configs
	}
	for _, list := range stored {
		for _, cfg := range list {
			if cfg != nil {
				insertConfig(configs, cfg)
			}
		}
	}
	return configs
}

// loadJSON reports whether a blob was found and decoded into out. Failures
// leave the reporter with empty state.
func (r *Reporter) loadJSON(key string, out any) bool {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	data, err := r.store.Load(ctx, key)
	if err != nil {
		observability.PersistenceErrors.WithLabelValues("load").Inc()
		log.Error().Err(err).Str("key", key).Msg("load reporter state")
		return false
	}
	if len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		observability.PersistenceErrors.WithLabelValues("load").Inc()
		log.Error().Err(err).Str("key", key).Msg("decode reporter state")
		return false
	}
	return true
}

func (r *Reporter) saveInvocationsLocked() {
	r.saveJSON(ReportDataKey, r.invocations)
}

func (r *Reporter) saveConfigsLocked() {
	r.saveJSON(ConfigsKey, r.configs)
}

// saveJSON logs failures; the next mutation writes the full state again.
func (r *Reporter) saveJSON(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		observability.PersistenceErrors.WithLabelValues("save").Inc()
		log.Error().Err(err).Str("key", key).Msg("encode reporter state")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.store.Save(ctx, key, data); err != nil {
		observability.PersistenceErrors.WithLabelValues("save").Inc()
		log.Error().Err(err).Str("key", key).Msg("save reporter state")
	}
}
