// Package otp keeps track of one-time codes: the reusable cached code, the
// generation quota the portal enforces, and the inbox SMS messages arrive in.
package otp

import (
	"encoding/json"
	"errors"
	"fmt"
	"ireps-scraper/internal/components/assert"
	"ireps-scraper/internal/components/chrono"
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/lib/osutil"
	"os"
	"sort"
	"sync"
	"time"
)

const (
	report_cache_load     = "cache.load"
	report_cache_persist  = "cache.persist"
	report_cache_generate = "cache.register-generation"
)

const (
	DefaultReuseWindow = 24 * time.Hour
	DefaultQuotaWindow = time.Hour
	DefaultQuotaLimit  = 2
)

// Entry is a code that was accepted by the portal at GeneratedAt.
type Entry struct {
	Code        string
	GeneratedAt time.Time
}

// Usable reports whether the entry may still be submitted at now.
func (e Entry) Usable(now time.Time, window time.Duration) bool {
	if e.Code == "" || e.GeneratedAt.IsZero() {
		return false
	}
	return now.Sub(e.GeneratedAt) < window
}

// Quota is a rolling window limit on code generations.
type Quota struct {
	Window time.Duration
	Limit  int
}

// Recent returns the generations that fall inside the window ending at now, oldest first.
func (q Quota) Recent(generations []time.Time, now time.Time) []time.Time {
	var out []time.Time
	for _, at := range generations {
		if now.Sub(at) < q.Window {
			out = append(out, at)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Before(out[j])
	})
	return out
}

// Allows reports whether one more generation fits in the window ending at now.
func (q Quota) Allows(generations []time.Time, now time.Time) bool {
	return len(q.Recent(generations, now)) < q.Limit
}

// NextSlot returns when the next generation becomes possible, now if it
// already is.
func (q Quota) NextSlot(generations []time.Time, now time.Time) time.Time {
	recent := q.Recent(generations, now)
	if len(recent) < q.Limit {
		return now
	}
	// the slot frees up when the oldest generation that keeps the window full expires
	return recent[len(recent)-q.Limit].Add(q.Window)
}

type cacheFile struct {
	Otp         string   `json:"otp"`
	Timestamp   string   `json:"timestamp"`
	Generations []string `json:"generations"`
}

type Cache struct {
	path        string
	reuseWindow time.Duration
	quota       Quota
	clock       chrono.API
	tel         telemetry.API

	mutex sync.Mutex
}

type CacheOptions struct {
	ReuseWindow time.Duration
	QuotaWindow time.Duration
	QuotaLimit  int
}

func NewCache(path string, opts CacheOptions, clock chrono.API, tel telemetry.API) *Cache {
	assert.NotEmptyStr(path)
	assert.NotNil(clock)
	assert.NotNil(tel)

	if opts.ReuseWindow <= 0 {
		opts.ReuseWindow = DefaultReuseWindow
	}
	if opts.QuotaWindow <= 0 {
		opts.QuotaWindow = DefaultQuotaWindow
	}
	if opts.QuotaLimit <= 0 {
		opts.QuotaLimit = DefaultQuotaLimit
	}
	return &Cache{
		path:        path,
		reuseWindow: opts.ReuseWindow,
		quota:       Quota{Window: opts.QuotaWindow, Limit: opts.QuotaLimit},
		clock:       clock,
		tel:         telemetry.NewScopedAPI("otp", tel),
	}
}

type state struct {
	entry       Entry
	generations []time.Time
}

func (c *Cache) load() state {
	contents, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return state{}
	}
	if err != nil {
		c.tel.ReportWarning(report_cache_load, fmt.Errorf("read otp cache: %w", err), c.path)
		return state{}
	}
	var file cacheFile
	err = json.Unmarshal(contents, &file)
	if err != nil {
		c.tel.ReportWarning(report_cache_load, fmt.Errorf("decode otp cache: %w", err), c.path)
		return state{}
	}

	loc := c.clock.Location()
	var out state
	if file.Otp != "" && file.Timestamp != "" {
		generatedAt, err := chrono.ParseTimestamp(file.Timestamp, loc)
		if err != nil {
			c.tel.ReportWarning(report_cache_load, err, c.path)
		} else {
			out.entry = Entry{Code: file.Otp, GeneratedAt: generatedAt}
		}
	}
	for _, raw := range file.Generations {
		at, err := chrono.ParseTimestamp(raw, loc)
		if err != nil {
			c.tel.ReportWarning(report_cache_load, err, c.path)
			continue
		}
		out.generations = append(out.generations, at)
	}
	return out
}

func (c *Cache) persist(s state) error {
	file := cacheFile{Generations: []string{}}
	if s.entry.Code != "" {
		file.Otp = s.entry.Code
		file.Timestamp = chrono.FormatTimestamp(s.entry.GeneratedAt)
	}
	// generations outside the window can never matter again
	for _, at := range c.quota.Recent(s.generations, c.clock.Now()) {
		file.Generations = append(file.Generations, chrono.FormatTimestamp(at))
	}
	contents, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	err = osutil.WriteFileAtomic(c.path, contents)
	if err != nil {
		c.tel.ReportBroken(report_cache_persist, err, c.path)
		return fmt.Errorf("persist otp cache: %w", err)
	}
	return nil
}

// GetCached returns the cached code while it is inside the reuse window.
func (c *Cache) GetCached() (string, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry := c.load().entry
	if !entry.Usable(c.clock.Now(), c.reuseWindow) {
		return "", false
	}
	return entry.Code, true
}

// RecordGenerated stores code as the reusable code, stamped with the current time.
func (c *Cache) RecordGenerated(code string) error {
	assert.NotEmptyStr(code)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	s := c.load()
	s.entry = Entry{Code: code, GeneratedAt: c.clock.Now()}
	return c.persist(s)
}

// RegisterGeneration counts one code generation against the quota.
func (c *Cache) RegisterGeneration() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	s := c.load()
	now := c.clock.Now()
	s.generations = append(s.generations, now)
	if len(c.quota.Recent(s.generations, now)) > c.quota.Limit {
		c.tel.ReportWarning(report_cache_generate, "generation registered beyond the quota")
	}
	return c.persist(s)
}

// CanGenerate reports whether the quota allows another generation now.
func (c *Cache) CanGenerate() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.quota.Allows(c.load().generations, c.clock.Now())
}

// Invalidate forgets the cached code, the quota is left as is.
func (c *Cache) Invalidate() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	s := c.load()
	if s.entry.Code == "" {
		return nil
	}
	s.entry = Entry{}
	return c.persist(s)
}

type Status struct {
	Entry            Entry
	Usable           bool
	ExpiresAt        time.Time
	Generations      []time.Time
	QuotaLimit       int
	NextGenerationAt time.Time
}

// Status summarizes the cache for display.
func (c *Cache) Status() Status {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	s := c.load()
	now := c.clock.Now()
	status := Status{
		Entry:            s.entry,
		Usable:           s.entry.Usable(now, c.reuseWindow),
		Generations:      c.quota.Recent(s.generations, now),
		QuotaLimit:       c.quota.Limit,
		NextGenerationAt: c.quota.NextSlot(s.generations, now),
	}
	if !s.entry.GeneratedAt.IsZero() {
		status.ExpiresAt = s.entry.GeneratedAt.Add(c.reuseWindow)
	}
	return status
}
