// Package router selects the ordered list of provider adapters for a job.
package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/creatorscout/searchjobs/pkg/provider"
	"github.com/creatorscout/searchjobs/pkg/types"
)

var (
	// ErrNoRoute means no rule matched the job.
	ErrNoRoute = errors.New("no provider route matches the job")

	// ErrUnknownOverride means the job names an override token the router does not know.
	ErrUnknownOverride = errors.New("unknown provider override")
)

// Kind tags how a rule resolves its adapters.
type Kind int

const (
	// KindFixed routes to the rule's Primary and Fallbacks.
	KindFixed Kind = iota
	// KindOverride routes to the adapter named by the job's override token.
	KindOverride
)

// Rule is one entry of the routing table. Rules are evaluated in order and
// the first match wins.
type Rule struct {
	Name      string
	Kind      Kind
	Match     func(job *types.Job) bool
	Primary   string
	Fallbacks []string
}

// Route is the result of routing a job.
type Route struct {
	Rule     string
	Adapters []string
}

// DefaultOverrides maps override tokens to the Instagram adapters they force.
var DefaultOverrides = map[string]string{
	"v1":                           provider.InstagramKeyword,
	"v2":                           provider.InstagramReelsV2,
	"apify":                        provider.InstagramKeywordApify,
	provider.InstagramKeyword:      provider.InstagramKeyword,
	provider.InstagramReelsV2:      provider.InstagramReelsV2,
	provider.InstagramKeywordApify: provider.InstagramKeywordApify,
}

func hasUsername(job *types.Job) bool {
	return strings.TrimSpace(job.TargetUsername) != ""
}

// DefaultRules is the routing table, in precedence order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "tiktok-keyword",
			Match:   func(j *types.Job) bool { return j.Platform == types.PlatformTikTok && j.HasKeywords() },
			Primary: provider.TikTokKeyword,
		},
		{
			Name:    "youtube-keyword",
			Match:   func(j *types.Job) bool { return j.Platform == types.PlatformYouTube && j.HasKeywords() },
			Primary: provider.YouTubeKeyword,
		},
		{
			Name:    "youtube-similar",
			Match:   func(j *types.Job) bool { return j.Platform == types.PlatformYouTube && hasUsername(j) },
			Primary: provider.YouTubeSimilar,
		},
		{
			Name:    "instagram-similar",
			Match:   func(j *types.Job) bool { return j.Platform == types.PlatformInstagram && hasUsername(j) },
			Primary: provider.InstagramSimilar,
		},
		{
			Name:  "override",
			Kind:  KindOverride,
			Match: func(j *types.Job) bool { return strings.TrimSpace(j.ProviderOverride) != "" },
		},
		{
			Name:      "instagram-keyword",
			Match:     func(j *types.Job) bool { return j.Platform == types.PlatformInstagram && j.HasKeywords() },
			Primary:   provider.InstagramKeyword,
			Fallbacks: []string{provider.InstagramKeywordApify},
		},
		{
			Name:    "google-serp",
			Match:   func(j *types.Job) bool { return j.Platform == types.PlatformGoogleSERP },
			Primary: provider.GoogleSERP,
		},
	}
}

// Router evaluates a rule table against jobs.
type Router struct {
	rules     []Rule
	overrides map[string]string
	registry  *provider.Registry
}

// New creates a router over the default rule table.
func New(registry *provider.Registry) *Router {
	return &Router{
		rules:     DefaultRules(),
		overrides: DefaultOverrides,
		registry:  registry,
	}
}

// WithRules replaces the rule table.
func (r *Router) WithRules(rules []Rule) *Router {
	r.rules = rules
	return r
}

// Resolve returns adapter names for the job without touching the registry.
func (r *Router) Resolve(job *types.Job) (Route, error) {
	for _, rule := range r.rules {
		if !rule.Match(job) {
			continue
		}
		switch rule.Kind {
		case KindOverride:
			token := strings.ToLower(strings.TrimSpace(job.ProviderOverride))
			name, ok := r.overrides[token]
			if !ok {
				return Route{}, fmt.Errorf("%w: %q", ErrUnknownOverride, job.ProviderOverride)
			}
			return Route{Rule: rule.Name, Adapters: []string{name}}, nil
		default:
			names := append([]string{rule.Primary}, rule.Fallbacks...)
			return Route{Rule: rule.Name, Adapters: names}, nil
		}
	}
	return Route{}, ErrNoRoute
}

// Route returns the adapters to try for the job, primary first.
func (r *Router) Route(job *types.Job) ([]provider.Adapter, error) {
	route, err := r.Resolve(job)
	if err != nil {
		return nil, err
	}
	adapters := make([]provider.Adapter, 0, len(route.Adapters))
	for _, name := range route.Adapters {
		a, err := r.registry.Get(name)
		if err != nil {
			if len(adapters) == 0 {
				return nil, fmt.Errorf("route %s: %w", route.Rule, err)
			}
			// a missing fallback only narrows the list
			continue
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// IsOverrideToken reports whether token names a known override.
func (r *Router) IsOverrideToken(token string) bool {
	_, ok := r.overrides[strings.ToLower(strings.TrimSpace(token))]
	return ok
}
