package reporter

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"aem-reporter/internal/aem"
	"aem-reporter/internal/graph"
	"aem-reporter/internal/observability"
)

// SendAggregationRequest reports every invocation not yet aggregated. No
// request is made when nothing is pending.
func (r *Reporter) SendAggregationRequest() {
	r.dispatch(r.sendAggregation)
}

func (r *Reporter) sendAggregation() {
	type report struct {
		live   *aem.Invocation
		params map[string]any
		value  int
	}

	r.mu.Lock()
	var reports []report
	for _, inv := range r.invocations {
		if inv.IsAggregated {
			continue
		}
		if _, busy := r.reporting[inv]; busy {
			continue
		}
		r.reporting[inv] = struct{}{}
		reports = append(reports, report{live: inv, params: conversionParams(inv), value: inv.ConversionValue})
	}
	r.mu.Unlock()

	for _, rep := range reports {
		rep := rep // per-iteration copy; go directive is 1.21 (pre-1.22 loopvar semantics)
		r.call(graph.Request{
			Path:   r.appID + "/" + graph.ConversionsEdge,
			Method: http.MethodPost,
			Params: rep.params,
		}, func(_ map[string]any, err error) {
			r.markAggregated(rep.live, rep.value, err)
		})
	}
}

func (r *Reporter) markAggregated(inv *aem.Invocation, reported int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reporting, inv)

	if err != nil {
		observability.AggregationReports.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("campaign_id", inv.CampaignID).Msg("aggregation report failed")
		return
	}
	observability.AggregationReports.WithLabelValues("success").Inc()
	// a later attribution raised the value while the report was in flight
	if inv.ConversionValue != reported {
		return
	}
	inv.IsAggregated = true
	r.saveInvocationsLocked()
	r.publishLocked()
	log.Info().Str("campaign_id", inv.CampaignID).Int("conversion_value", reported).Msg("invocation aggregated")
}

func conversionParams(inv *aem.Invocation) map[string]any {
	hour := inv.Timestamp.Unix() / 3600
	params := map[string]any{
		"campaign_id":      inv.CampaignID,
		"conversion_data":  inv.ConversionValue,
		"consumption_hour": hour,
		"token":            inv.ACSToken,
		"delay_flow":       "server",
	}
	if inv.ACSConfigID != "" {
		params["acs_config_id"] = inv.ACSConfigID
	}
	if inv.ConfigID != nil {
		params["config_id"] = *inv.ConfigID
	}
	if inv.BusinessID != "" {
		params["business_id"] = inv.BusinessID
	}
	if inv.ACSSharedSecret != "" {
		params["hmac"] = sign(inv.ACSSharedSecret, inv.CampaignID, inv.ConversionValue, hour)
	}
	return params
}

// sign authenticates the de-identified report fields with the shared secret.
func sign(secret, campaignID string, value int, hour int64) string {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write([]byte(strings.Join([]string{
		campaignID,
		strconv.Itoa(value),
		strconv.FormatInt(hour, 10),
	}, "|")))
	return hex.EncodeToString(h.Sum(nil))
}
