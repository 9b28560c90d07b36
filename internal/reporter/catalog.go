package reporter

import (
	"sort"

	"github.com/rs/zerolog/log"

	"aem-reporter/internal/aem"
)

// insertConfig adds cfg to its mode list unless that validFrom is already
// present. Lists stay sorted by validFrom ascending.
func insertConfig(catalog map[string][]*aem.Configuration, cfg *aem.Configuration) {
	list := catalog[cfg.ConfigMode]
	for _, c := range list {
		if c.ValidFrom == cfg.ValidFrom {
			return
		}
	}
	list = append(list, cfg)
	sort.SliceStable(list, func(i, j int) bool { return list[i].ValidFrom < list[j].ValidFrom })
	catalog[cfg.ConfigMode] = list
}

// catalogHasEvent reports whether any rule in the catalog names the event.
func catalogHasEvent(catalog map[string][]*aem.Configuration, name string) bool {
	for _, list := range catalog {
		for _, cfg := range list {
			if _, ok := cfg.Events()[name]; ok {
				return true
			}
		}
	}
	return false
}

// ClearCache evicts expired aggregated invocations and superseded configurations.
func (r *Reporter) ClearCache() {
	r.dispatch(r.clearCache)
}

func (r *Reporter) clearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	kept := r.invocations[:0:0]
	inUse := map[string]map[int64]struct{}{}
	for _, inv := range r.invocations {
		if inv.IsAggregated && inv.IsExpired(now, r.retention) {
			continue
		}
		kept = append(kept, inv)
		if inv.ConfigID != nil {
			mode := inv.ConfigMode()
			if inUse[mode] == nil {
				inUse[mode] = map[int64]struct{}{}
			}
			inUse[mode][*inv.ConfigID] = struct{}{}
		}
	}
	evicted := len(r.invocations) - len(kept)
	r.invocations = kept

	for mode, list := range r.configs {
		list = dedupe(list)
		var out []*aem.Configuration
		for i, c := range list {
			_, used := inUse[mode][c.ValidFrom]
			if used || i >= len(list)-r.retained {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			delete(r.configs, mode)
			continue
		}
		r.configs[mode] = out
	}

	r.saveInvocationsLocked()
	r.saveConfigsLocked()
	r.publishLocked()
	log.Debug().Int("evicted_invocations", evicted).Msg("cache cleared")
}

func dedupe(list []*aem.Configuration) []*aem.Configuration {
	seen := make(map[int64]struct{}, len(list))
	out := make([]*aem.Configuration, 0, len(list))
	for _, c := range list {
		if _, ok := seen[c.ValidFrom]; ok {
			continue
		}
		seen[c.ValidFrom] = struct{}{}
		out = append(out, c)
	}
	return out
}
