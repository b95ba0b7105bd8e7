package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/campaign-attribution/internal/auth"
	"github.com/serroba/campaign-attribution/internal/ratelimit"
)

// Handlers groups every API handler.
type Handlers struct {
	Links     *LinkHandler
	Redirect  *RedirectHandler
	Recording *RecordingHandler
	Jobs      *JobsHandler
}

func tenantOnly() map[string]any {
	return map[string]any{auth.MetadataKey: auth.LevelTenant}
}

// RegisterRoutes registers the API with its auth levels and rate limits.
func RegisterRoutes(api huma.API, h Handlers) {
	huma.Register(api, huma.Operation{
		Method:        http.MethodPost,
		Path:          "/targets/{targetId}/links",
		Summary:       "Create campaign link",
		Description:   "Creates a link with a tenant-unique cid and returns its share and campaign URLs.",
		Tags:          []string{"Links"},
		DefaultStatus: http.StatusCreated,
		Metadata: map[string]any{
			auth.MetadataKey: auth.LevelTenant,
			ratelimit.MetadataKey: ratelimit.EndpointConfig{
				Limits: []ratelimit.LimitConfig{
					{Window: time.Minute, Max: 30},
					{Window: time.Hour, Max: 300},
				},
			},
		},
	}, h.Links.CreateLink)

	huma.Register(api, huma.Operation{
		Method:      http.MethodGet,
		Path:        "/links",
		Summary:     "List campaign links with stats",
		Description: "Lists links with distinct-session visits, attributed conversions and conversion rate over a range (default the last 30 days).",
		Tags:        []string{"Links"},
		Metadata:    tenantOnly(),
	}, h.Links.ListLinks)

	huma.Register(api, huma.Operation{
		Method:   http.MethodGet,
		Path:     "/links/{linkId}/stats",
		Summary:  "Link stats and daily series",
		Tags:     []string{"Links"},
		Metadata: tenantOnly(),
	}, h.Links.LinkStats)

	huma.Register(api, huma.Operation{
		Method:      http.MethodPut,
		Path:        "/links/{linkId}",
		Summary:     "Update campaign link",
		Description: "Renames, retargets or re-tags a link. The cid never changes, so URLs already shared keep attributing.",
		Tags:        []string{"Links"},
		Metadata:    tenantOnly(),
	}, h.Links.UpdateLink)

	huma.Register(api, huma.Operation{
		Method:        http.MethodPost,
		Path:          "/links/{linkId}/archive",
		Summary:       "Archive campaign link",
		Tags:          []string{"Links"},
		DefaultStatus: http.StatusNoContent,
		Metadata:      tenantOnly(),
	}, h.Links.ArchiveLink)

	huma.Register(api, huma.Operation{
		Method:        http.MethodPost,
		Path:          "/targets/{targetId}/short-links",
		Summary:       "Create short link",
		Tags:          []string{"Links"},
		DefaultStatus: http.StatusCreated,
		Metadata:      tenantOnly(),
	}, h.Links.CreateShortLink)

	huma.Register(api, huma.Operation{
		Method:      http.MethodGet,
		Path:        "/s/{code}",
		Summary:     "Follow short link",
		Description: "Redirects to the landing page with cid, UTM and session_id applied. Unknown or expired codes redirect to /.",
		Tags:        []string{"Public"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Scope: ratelimit.ScopePublic},
		},
	}, h.Redirect.Redirect)

	huma.Register(api, huma.Operation{
		Method:        http.MethodPost,
		Path:          "/public/targets/{targetId}/visits",
		Summary:       "Record landing page visit",
		Tags:          []string{"Public"},
		DefaultStatus: http.StatusAccepted,
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Scope: ratelimit.ScopePublic},
		},
	}, h.Recording.RecordVisit)

	huma.Register(api, huma.Operation{
		Method:        http.MethodPost,
		Path:          "/targets/{targetId}/conversions",
		Summary:       "Record conversion",
		Tags:          []string{"Conversions"},
		DefaultStatus: http.StatusCreated,
		Metadata:      tenantOnly(),
	}, h.Recording.RecordConversion)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		huma.Register(api, huma.Operation{
			OperationID: "run-aggregation-" + strings.ToLower(method),
			Method:      method,
			Path:        "/internal/aggregate",
			Summary:     "Run daily aggregation",
			Description: "Without from the run is incremental over the lookback; with from it backfills every UTC day in range.",
			Tags:        []string{"Internal"},
			Metadata: map[string]any{
				auth.MetadataKey:      auth.LevelScheduler,
				ratelimit.MetadataKey: ratelimit.EndpointConfig{Disabled: true},
			},
		}, h.Jobs.Aggregate)
	}

	huma.Register(api, huma.Operation{
		Method:  http.MethodGet,
		Path:    "/internal/estimates",
		Summary: "Estimate conversion sources",
		Tags:    []string{"Internal"},
		Metadata: map[string]any{
			auth.MetadataKey:      auth.LevelScheduler,
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Disabled: true},
		},
	}, h.Jobs.Estimates)
}
