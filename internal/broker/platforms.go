package broker

import (
	"sort"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// PlatformSpec is the static description of a supported platform. Endpoint and
// Scopes are only used to synthesize a degraded authorize URL.
type PlatformSpec struct {
	Name     string
	Endpoint oauth2.Endpoint
	Scopes   []string
}

var builtinPlatforms = map[string]PlatformSpec{
	"facebook": {
		Name:     "facebook",
		Endpoint: endpoints.Facebook,
		Scopes:   []string{"pages_show_list", "pages_manage_posts", "ads_management"},
	},
	"instagram": {
		Name:     "instagram",
		Endpoint: endpoints.Facebook,
		Scopes:   []string{"instagram_basic", "instagram_content_publish", "pages_show_list"},
	},
	"linkedin": {
		Name:     "linkedin",
		Endpoint: endpoints.LinkedIn,
		Scopes:   []string{"r_organization_social", "w_organization_social", "rw_ads"},
	},
	"google": {
		Name:     "google",
		Endpoint: endpoints.Google,
		Scopes:   []string{"https://www.googleapis.com/auth/adwords"},
	},
	"twitter": {
		Name: "twitter",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://twitter.com/i/oauth2/authorize",
			TokenURL: "https://api.twitter.com/2/oauth2/token",
		},
		Scopes: []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
	},
	"tiktok": {
		Name: "tiktok",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://www.tiktok.com/v2/auth/authorize/",
			TokenURL: "https://open.tiktokapis.com/v2/oauth/token/",
		},
		Scopes: []string{"user.info.basic", "video.publish"},
	},
	"pinterest": {
		Name: "pinterest",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://www.pinterest.com/oauth/",
			TokenURL: "https://api.pinterest.com/v5/oauth/token",
		},
		Scopes: []string{"boards:read", "pins:read", "pins:write"},
	},
}

// NormalizePlatform lowercases and trims a platform identifier.
func NormalizePlatform(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// IsSupported reports whether p (already normalized) is a known platform.
func IsSupported(p string) bool {
	_, ok := builtinPlatforms[p]
	return ok
}

// LookupPlatform returns the static spec for p.
func LookupPlatform(p string) (PlatformSpec, bool) {
	spec, ok := builtinPlatforms[NormalizePlatform(p)]
	return spec, ok
}

// SupportedPlatforms returns the known platform identifiers, sorted.
func SupportedPlatforms() []string {
	out := make([]string, 0, len(builtinPlatforms))
	for name := range builtinPlatforms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
