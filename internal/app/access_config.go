package app

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultClockSkew   = time.Minute
	defaultQRSize      = 256
	defaultKeyCacheTTL = 10 * time.Minute
)

// EffectiveClockSkew returns the tolerated start date drift, defaulting to one minute.
func (c AccessConfig) EffectiveClockSkew() time.Duration {
	if c.ClockSkew <= 0 {
		return defaultClockSkew
	}
	return c.ClockSkew
}

// EffectiveQRSize returns the rendered QR edge in pixels.
func (c AccessConfig) EffectiveQRSize() int {
	if c.QRSize <= 0 {
		return defaultQRSize
	}
	return c.QRSize
}

// EffectiveKeyCacheTTL returns how long verification keys stay cached.
func (c AccessConfig) EffectiveKeyCacheTTL() time.Duration {
	if c.KeyCacheTTL <= 0 {
		return defaultKeyCacheTTL
	}
	return c.KeyCacheTTL
}

// Location resolves the time zone used when rendering pass windows for people.
func (c AccessConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("access: load timezone %q: %w", name, err)
	}
	return loc, nil
}
