package main

import (
	"fmt"
	"sort"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/config"
)

// driverFactories maps backend names to constructors. A backend registers
// itself from its own file in this package, the way database/sql drivers
// do, so its dependency stays out of builds that do not link it.
var driverFactories = map[string]func(config.BrowserConfig) (browser.Driver, error){}

func registerDriver(name string, factory func(config.BrowserConfig) (browser.Driver, error)) {
	driverFactories[name] = factory
}

// newDriver resolves the browser backend by name. With a single registered
// backend the name may be empty.
func newDriver(name string, cfg config.BrowserConfig) (browser.Driver, error) {
	if name == "" && len(driverFactories) == 1 {
		for only := range driverFactories {
			name = only
		}
	}
	factory, ok := driverFactories[name]
	if !ok {
		if name == "" {
			return nil, fmt.Errorf("no browser backend linked into this build; register one and select it with REWARDS_DRIVER")
		}
		return nil, fmt.Errorf("browser backend %q not linked into this build (available: %v)", name, backendNames())
	}
	return factory(cfg)
}

func backendNames() []string {
	names := make([]string, 0, len(driverFactories))
	for name := range driverFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
