package stealth

import (
	"fmt"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
)

// Options controls which layers Install applies.
type Options struct {
	Timezone string
	Locale   string
	// Medium enables the anti-debugging layer on top of the full script.
	Medium bool
	// Throttle is shared across sessions so the request floor is global.
	Throttle *Throttler
}

// Hardener returns a browser.Hardener that applies the complete stealth
// layer: both init scripts and the network interceptor. Scripts install
// before the first page exists, so every frame of the session sees the
// spoofed environment.
func Hardener(opts Options) browser.Hardener {
	return func(bc browser.BrowserContext, fp browser.Fingerprint) error {
		cfg := ScriptConfigFor(fp, opts.Timezone, opts.Locale)
		if err := bc.AddInitScript(FullScript(cfg)); err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		if opts.Medium {
			if err := bc.AddInitScript(MediumScript(cfg)); err != nil {
				return fmt.Errorf("install hardening script: %w", err)
			}
		}
		if err := bc.Route(NewInterceptor(fp, opts.Locale, opts.Throttle)); err != nil {
			return fmt.Errorf("install interceptor: %w", err)
		}
		return nil
	}
}
