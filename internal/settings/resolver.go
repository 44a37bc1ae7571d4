package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/clipvault/clipvault/internal/channel"
	"github.com/clipvault/clipvault/internal/guild"
)

// DefaultCacheTTL bounds how long a resolved entry is served without hitting
// the database again.
const DefaultCacheTTL = 300 * time.Second

// GuildSource supplies the guild-level settings layers.
type GuildSource interface {
	Settings(ctx context.Context, id string) (settings, defaults map[string]any, err error)
}

// ChannelSource supplies the channel-level override layer.
type ChannelSource interface {
	Settings(ctx context.Context, id string) (map[string]any, error)
}

type cacheKey struct {
	guildID   string
	channelID string
}

type cacheEntry struct {
	resolved Settings
	cachedAt time.Time
}

// Resolver layers system defaults, file defaults, guild defaults, guild
// settings, and channel settings into one effective map, cached per
// (guild, channel) pair.
type Resolver struct {
	guilds       GuildSource
	channels     ChannelSource
	fileDefaults map[string]any
	ttl          time.Duration
	log          zerolog.Logger
	now          func() time.Time

	mu     sync.Mutex
	cache  map[cacheKey]cacheEntry
	hits   uint64
	misses uint64
}

// NewResolver creates a resolver. fileDefaults may be nil when no defaults
// file is configured.
func NewResolver(guilds GuildSource, channels ChannelSource, fileDefaults map[string]any, ttl time.Duration, logger zerolog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver{
		guilds:       guilds,
		channels:     channels,
		fileDefaults: fileDefaults,
		ttl:          ttl,
		log:          logger,
		now:          time.Now,
		cache:        map[cacheKey]cacheEntry{},
	}
}

// LoadFileDefaults reads the optional YAML defaults file. A missing file is
// not an error; an empty path returns nil.
func LoadFileDefaults(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read settings defaults: %w", err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse settings defaults: %w", err)
	}
	return out, nil
}

// Resolve returns the effective settings for one channel. Cache misses fetch
// outside the lock, so concurrent misses on the same key may each hit the
// database; the results are equal so the race is harmless.
func (r *Resolver) Resolve(ctx context.Context, guildID, channelID string) (Settings, error) {
	key := cacheKey{guildID: guildID, channelID: channelID}

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && r.now().Sub(entry.cachedAt) < r.ttl {
		r.hits++
		r.mu.Unlock()
		return entry.resolved, nil
	}
	r.misses++
	r.mu.Unlock()

	resolved, err := r.fetch(ctx, guildID, channelID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{resolved: resolved, cachedAt: r.now()}
	r.mu.Unlock()
	return resolved, nil
}

func (r *Resolver) fetch(ctx context.Context, guildID, channelID string) (Settings, error) {
	resolved := systemDefaults()
	merge(resolved, r.fileDefaults)

	guildSettings, guildDefaults, err := r.guilds.Settings(ctx, guildID)
	if err != nil && !errors.Is(err, guild.ErrNotFound) {
		return nil, fmt.Errorf("resolve guild settings: %w", err)
	}
	merge(resolved, guildDefaults)
	merge(resolved, guildSettings)

	channelSettings, err := r.channels.Settings(ctx, channelID)
	if err != nil && !errors.Is(err, channel.ErrNotFound) {
		return nil, fmt.Errorf("resolve channel settings: %w", err)
	}
	merge(resolved, channelSettings)

	return resolved, nil
}

// InvalidateChannel drops the cached entry for one channel.
func (r *Resolver) InvalidateChannel(guildID, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, cacheKey{guildID: guildID, channelID: channelID})
}

// InvalidateGuild drops every cached entry for a guild.
func (r *Resolver) InvalidateGuild(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if key.guildID == guildID {
			delete(r.cache, key)
		}
	}
}

// Clear empties the cache.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = map[cacheKey]cacheEntry{}
}

// Stats reports cache effectiveness for the monitoring surface.
type Stats struct {
	Size   int
	Hits   uint64
	Misses uint64
}

// Stats returns a snapshot of the cache counters.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Size: len(r.cache), Hits: r.hits, Misses: r.misses}
}

// String renders stats in log-friendly form.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "size=%d hits=%d misses=%d", s.Size, s.Hits, s.Misses)
	return b.String()
}
