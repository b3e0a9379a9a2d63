// Package geocoding remembers which listing-site location token a postcode resolves to.
package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const cacheFileName = "location_cache.json"

// Locator resolves a free-text location into a listing-site token.
type Locator interface {
	ResolveLocation(ctx context.Context, location string) (string, error)
}

// CachedLocator answers repeated lookups from a JSON file on disk. Failed
// lookups are never cached.
type CachedLocator struct {
	locator   Locator
	logger    *logrus.Logger
	cacheFile string
	cache     map[string]string
	cacheLock sync.RWMutex
}

func NewCachedLocator(locator Locator, cacheDir string, logger *logrus.Logger) (*CachedLocator, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &CachedLocator{
		locator:   locator,
		logger:    logger,
		cacheFile: filepath.Join(cacheDir, cacheFileName),
		cache:     make(map[string]string),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CachedLocator) load() error {
	data, err := os.ReadFile(c.cacheFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read location cache: %w", err)
	}

	if err := json.Unmarshal(data, &c.cache); err != nil {
		c.logger.WithError(err).Warn("Discarding unreadable location cache")
		c.cache = make(map[string]string)
		return nil
	}

	c.logger.WithField("entries", len(c.cache)).Info("Loaded location cache")
	return nil
}

// save replaces the cache file through a temp file. Callers hold cacheLock.
func (c *CachedLocator) save() error {
	data, err := json.Marshal(c.cache)
	if err != nil {
		return fmt.Errorf("failed to marshal location cache: %w", err)
	}

	tmp := c.cacheFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write location cache: %w", err)
	}
	if err := os.Rename(tmp, c.cacheFile); err != nil {
		return fmt.Errorf("failed to replace location cache: %w", err)
	}
	return nil
}

func cacheKey(location string) string {
	return strings.ToUpper(strings.Join(strings.Fields(location), " "))
}

// ResolveLocation returns the cached token for location or asks the wrapped locator.
func (c *CachedLocator) ResolveLocation(ctx context.Context, location string) (string, error) {
	key := cacheKey(location)

	c.cacheLock.RLock()
	token, ok := c.cache[key]
	c.cacheLock.RUnlock()
	if ok {
		c.logger.WithFields(logrus.Fields{
			"location": location,
			"token":    token,
			"source":   "cache",
		}).Debug("Found location in cache")
		return token, nil
	}

	token, err := c.locator.ResolveLocation(ctx, location)
	if err != nil {
		return "", err
	}

	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()
	c.cache[key] = token
	if err := c.save(); err != nil {
		// The token is still good for this run
		c.logger.WithError(err).Warn("Failed to save location cache")
	}
	return token, nil
}

// Len reports the number of cached locations.
func (c *CachedLocator) Len() int {
	c.cacheLock.RLock()
	defer c.cacheLock.RUnlock()
	return len(c.cache)
}
