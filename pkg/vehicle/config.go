package vehicle

import (
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/suncharge/suncharge/pkg/authcache"
)

// Configured sets up the vehicle API client based on flags. The account
// credentials are applied later, once the site configuration is loaded.
func Configured(cache *authcache.Store) *Tesla {
	apiURL := lflag.String("tesla-api-url", defaultAPIURL, "Base URL for the vehicle owner API")
	authURL := lflag.String("tesla-auth-url", defaultAuthURL, "Base URL for the vehicle auth server")
	wakeTimeout := lflag.Duration("tesla-wake-timeout", time.Minute, "How long to wait for a sleeping vehicle to come online")

	t := newTesla(cache)
	lflag.Do(func() {
		t.apiURL = *apiURL
		t.authURL = *authURL
		t.wakeTimeout = *wakeTimeout
	})
	return t
}
