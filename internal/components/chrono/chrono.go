package chrono

import (
	"sync"
	"time"
	_ "time/tzdata"
)

// PortalZone is the time zone the remote portal and the run schedule operate in.
const PortalZone = "Asia/Kolkata"

var portal *time.Location

func init() {
	var err error
	portal, err = time.LoadLocation(PortalZone)
	if err != nil {
		panic(err)
	}
}

// Portal returns a [*time.Location] for the portal's time zone.
func Portal() *time.Location {
	return portal
}

// API is the interface that anything depending on the system clock should use.
//
// note: fault injection point
type API interface {
	Now() time.Time
	Location() *time.Location
}

type StandardImpl struct {
	location *time.Location
}

func NewStandardImpl(zone string) (StandardImpl, error) {
	if zone == "" {
		zone = PortalZone
	}
	location, err := time.LoadLocation(zone)
	if err != nil {
		return StandardImpl{}, err
	}
	return StandardImpl{location: location}, nil
}

func (s StandardImpl) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardImpl) Location() *time.Location {
	return s.location
}

// Fake is a manually advanced clock for tests.
type Fake struct {
	mutex    sync.Mutex
	now      time.Time
	location *time.Location
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now, location: now.Location()}
}

func (f *Fake) Now() time.Time {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.now
}

func (f *Fake) Location() *time.Location {
	return f.location
}

func (f *Fake) Set(now time.Time) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.now = now
}

func (f *Fake) Advance(d time.Duration) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.now = f.now.Add(d)
}
