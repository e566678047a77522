// Package hours provides a BusinessHoursPolicy: a fixed [start, end) hour
// window evaluated on the wall clock of one IANA time zone.
package hours

import (
	"fmt"
	"sync"
	"time"

	"github.com/paywise/sendgate"
	"golang.org/x/sync/singleflight"
)

// Policy implements sendgate.HoursPolicy. It holds no mutable state.
type Policy struct {
	loc       *time.Location
	startHour int
	endHour   int
}

var _ sendgate.HoursPolicy = (*Policy)(nil)

// New creates a policy for [startHour, endHour) in zone.
func New(zone string, startHour, endHour int) (*Policy, error) {
	if startHour < 0 || endHour > 24 || startHour >= endHour {
		return nil, fmt.Errorf("sendgate/hours: invalid window [%d, %d)", startHour, endHour)
	}
	loc, err := defaultZones.Load(zone)
	if err != nil {
		return nil, err
	}
	return &Policy{loc: loc, startHour: startHour, endHour: endHour}, nil
}

// Default returns the 08:00-20:00 Asia/Jerusalem policy.
func Default() (*Policy, error) {
	return New(sendgate.DefaultBusinessZone, sendgate.DefaultBusinessHoursStart, sendgate.DefaultBusinessHoursEnd)
}

// IsWithinWindow reports whether startHour <= local hour < endHour.
func (p *Policy) IsWithinWindow(now time.Time) bool {
	return IsWithinWindow(now, p.loc, p.startHour, p.endHour)
}

// NextWindowStart returns now if it is inside the window, otherwise the next
// local startHour:00 in the policy zone.
func (p *Policy) NextWindowStart(now time.Time) time.Time {
	if p.IsWithinWindow(now) {
		return now
	}
	local := now.In(p.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), p.startHour, 0, 0, 0, p.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, p.startHour, 0, 0, 0, p.loc)
	}
	return next
}

// Location returns the policy zone.
func (p *Policy) Location() *time.Location { return p.loc }

// IsWithinWindow is the pure form of Policy.IsWithinWindow.
func IsWithinWindow(now time.Time, loc *time.Location, startHour, endHour int) bool {
	h := now.In(loc).Hour()
	return startHour <= h && h < endHour
}

// ZoneCache loads IANA zones once. Concurrent first loads of the same zone
// share one time.LoadLocation call.
type ZoneCache struct {
	mu    sync.RWMutex
	zones map[string]*time.Location
	sf    singleflight.Group
}

var defaultZones = NewZoneCache()

// NewZoneCache creates an empty cache.
func NewZoneCache() *ZoneCache {
	return &ZoneCache{zones: make(map[string]*time.Location)}
}

// Load returns the location for name.
func (c *ZoneCache) Load(name string) (*time.Location, error) {
	c.mu.RLock()
	loc, ok := c.zones[name]
	c.mu.RUnlock()
	if ok {
		return loc, nil
	}

	v, err, _ := c.sf.Do(name, func() (interface{}, error) {
		return time.LoadLocation(name)
	})
	if err != nil {
		return nil, fmt.Errorf("sendgate/hours: load zone %q: %w", name, err)
	}

	loc = v.(*time.Location)
	c.mu.Lock()
	c.zones[name] = loc
	c.mu.Unlock()
	return loc, nil
}

// Len returns the number of cached zones.
func (c *ZoneCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.zones)
}
