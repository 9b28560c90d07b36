package reporter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"aem-reporter/internal/aem"
)

// AppLinkDataParam is the query parameter carrying the invocation identity.
const AppLinkDataParam = "al_applink_data"

var ErrInvalidDeepLink = errors.New("invalid deep link")

// ParseURL builds an invocation from a campaign deep link such as
// fb123://host?al_applink_data={"acs_token":"...","campaign_id":"..."}.
func ParseURL(rawURL string, now time.Time) (*aem.Invocation, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDeepLink, err)
	}
	data := u.Query().Get(AppLinkDataParam)
	if data == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidDeepLink, AppLinkDataParam)
	}
	var id aem.Identity
	if err := json.Unmarshal([]byte(data), &id); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDeepLink, AppLinkDataParam, err)
	}
	inv, err := aem.NewInvocation(id, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDeepLink, err)
	}
	return inv, nil
}
