package inverter

import (
	"time"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the inverter system client based on flags. The app
// credentials are applied later, once the site configuration is loaded.
func Configured() *AlphaESS {
	baseURL := lflag.String("alphaess-api-url", defaultAlphaESSURL, "Base URL for the AlphaESS Open API")
	delay := lflag.Duration("alphaess-request-delay", time.Second, "Pause between consecutive AlphaESS API calls")

	a := newAlphaESS()
	lflag.Do(func() {
		a.baseURL = *baseURL
		a.requestDelay = *delay
	})
	return a
}
