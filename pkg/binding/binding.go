// Package binding is the address binding cache: the map from a remote
// device's object-instance number to its data-link address, max-APDU size,
// and a TTL that ages the entry out once the device stops being heard from
// (via I-Am or an explicit bind).
package binding

import (
	"context"
	"os"
	"strconv"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/bacterium-io/mstpstack/pkg/datalink"
)

func redisField(deviceInstance uint32) string {
	return strconv.FormatUint(uint64(deviceInstance), 10)
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}

// Entry is one Address Binding Entry (§3).
type Entry struct {
	DeviceInstance uint32           `cbor:"device_instance" json:"device_instance"`
	MaxAPDU        uint16           `cbor:"max_apdu" json:"max_apdu"`
	Address        datalink.Address `cbor:"address" json:"address"`
	TTLSeconds     uint32           `cbor:"ttl_seconds" json:"ttl_seconds"`
	Bound          bool             `cbor:"bound" json:"bound"`
}

// Config tunes optional distribution and persistence.
type Config struct {
	Capacity int

	// RedisAddr, when set, mirrors every bind/purge to a Redis hash keyed
	// by device instance so multiple dispatcher processes share one
	// binding view (D4).
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string // hash key; defaults to "bacstack:bindings"

	// SnapshotPath, when set, enables D5 crash-recovery snapshotting.
	SnapshotPath string
}

const defaultRedisKey = "bacstack:bindings"

// Cache is the binding table. The zero value is not usable; construct with
// New.
type Cache struct {
	mu       sync.Mutex
	cfg      Config
	entries  map[uint32]*Entry
	redis    *redis.Client
	redisKey string
	ctx      context.Context
	log      *log.Entry
}

// New builds a Cache. If cfg.RedisAddr is set, distribution is enabled
// immediately; a failure to reach Redis is not fatal here — each Redis call
// that later fails is logged as a warning, and Bind/Lookup return no error
// for it.
func New(cfg Config) *Cache {
	c := &Cache{
		cfg:      cfg,
		entries:  make(map[uint32]*Entry),
		redisKey: cfg.RedisKey,
		ctx:      context.Background(),
		log:      log.WithField("component", "binding"),
	}
	if c.redisKey == "" {
		c.redisKey = defaultRedisKey
	}
	if cfg.RedisAddr != "" {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return c
}

// Bind creates or replaces the binding for deviceInstance.
func (c *Cache) Bind(deviceInstance uint32, addr datalink.Address, maxAPDU uint16, ttlSeconds uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &Entry{
		DeviceInstance: deviceInstance,
		MaxAPDU:        maxAPDU,
		Address:        addr,
		TTLSeconds:     ttlSeconds,
		Bound:          true,
	}
	if c.cfg.Capacity > 0 && len(c.entries) >= c.cfg.Capacity {
		c.evictOldestLocked()
	}
	c.entries[deviceInstance] = e

	c.log.WithFields(log.Fields{"device_instance": deviceInstance, "ttl_s": ttlSeconds}).Debug("binding created")
	c.publishLocked(e)
	c.writeSnapshotLocked()
}

// evictOldestLocked drops an arbitrary entry to make room; map iteration
// order is already randomized by Go, so this is a cheap approximation of
// LRU without tracking access times.
func (c *Cache) evictOldestLocked() {
	for k := range c.entries {
		delete(c.entries, k)
		return
	}
}

// Lookup returns deviceInstance's binding. If not held locally and Redis
// distribution is enabled, it falls back to the shared hash.
func (c *Cache) Lookup(deviceInstance uint32) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[deviceInstance]; ok {
		return *e, true
	}
	if c.redis == nil {
		return Entry{}, false
	}

	var e Entry
	raw, err := c.redis.HGet(c.ctx, c.redisKey, redisField(deviceInstance)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("redis lookup failed")
		}
		return Entry{}, false
	}
	if err := cbor.Unmarshal(raw, &e); err != nil {
		c.log.WithError(err).Warn("failed to decode redis binding entry")
		return Entry{}, false
	}
	return e, true
}

// Purge removes deviceInstance's binding, wherever it was held.
func (c *Cache) Purge(deviceInstance uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, deviceInstance)
	if c.redis != nil {
		if err := c.redis.HDel(c.ctx, c.redisKey, redisField(deviceInstance)).Err(); err != nil {
			c.log.WithError(err).Warn("redis purge failed")
		}
	}
	c.writeSnapshotLocked()
}

// Tick ages every entry by elapsedSeconds; entries whose TTL decays to zero
// are removed.
func (c *Cache) Tick(elapsedSeconds uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for instance, e := range c.entries {
		if e.TTLSeconds > elapsedSeconds {
			e.TTLSeconds -= elapsedSeconds
			continue
		}
		delete(c.entries, instance)
		if c.redis != nil {
			if err := c.redis.HDel(c.ctx, c.redisKey, redisField(instance)).Err(); err != nil {
				c.log.WithError(err).Warn("redis purge on expiry failed")
			}
		}
		c.log.WithField("device_instance", instance).Debug("binding aged out")
	}
	c.writeSnapshotLocked()
}

// Len reports the number of entries currently held locally.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Snapshot returns a copy of every entry currently held locally, for
// status reporting (A5).
func (c *Cache) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	return out
}

func (c *Cache) publishLocked(e *Entry) {
	if c.redis == nil {
		return
	}
	data, err := cbor.Marshal(e)
	if err != nil {
		c.log.WithError(err).Warn("failed to marshal binding entry for redis")
		return
	}
	if err := c.redis.HSet(c.ctx, c.redisKey, redisField(e.DeviceInstance), data).Err(); err != nil {
		c.log.WithError(err).Warn("redis publish failed")
	}
}

func (c *Cache) writeSnapshotLocked() {
	if c.cfg.SnapshotPath == "" {
		return
	}
	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, *e)
	}
	data, err := cbor.Marshal(entries)
	if err != nil {
		c.log.WithError(err).Warn("failed to marshal binding snapshot")
		return
	}
	if err := writeFile(c.cfg.SnapshotPath, data); err != nil {
		c.log.WithError(err).Warn("failed to write binding snapshot")
	}
}
