package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled          bool
	Driver           string
	Topic            string
	Brokers          string
	GroupID          string
	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
}

type ByteCacheCfg struct {
	Driver     string // "lru", "redis" or "none"
	RedisAddr  string
	TTL        time.Duration
	MaxEntries int
	OpTimeout  time.Duration
}

type Config struct {
	Addr           string
	MetricsAddr    string // empty mounts /metrics on the main listener
	LogLevel       string
	DataDir        string
	LayerServerURL string
	FetchTimeout   time.Duration
	// ReferenceLayers maps classification slot names to the per-tenant
	// layer id serving that slot.
	ReferenceLayers map[string]string
	// PresenceGated lists layer ids fetched exactly while visible and
	// dropped the moment they are hidden.
	PresenceGated []string
	ByteCache     ByteCacheCfg
	Invalidation  InvalidationCfg
	SessionIdle   time.Duration
}

func FromEnv() Config {
	ttl := getduration("BYTE_CACHE_TTL", 5*time.Minute)

	return Config{
		Addr:           getenv("ADDR", ":8080"),
		MetricsAddr:    getenv("METRICS_ADDR", ""),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		DataDir:        getenv("DATA_DIR", "./data/cities"),
		LayerServerURL: getenv("LAYER_SERVER_URL", "http://localhost:8080"),
		FetchTimeout:   getduration("FETCH_TIMEOUT", 30*time.Second),
		ReferenceLayers: parsePairMap(getenv("REFERENCE_LAYERS",
			"subdivisions=subdivisions,flood_zones=floodplains")),
		PresenceGated: splitList(getenv("PRESENCE_GATED_LAYERS", "parcels,businesses")),
		ByteCache: ByteCacheCfg{
			Driver:     strings.ToLower(getenv("BYTE_CACHE_DRIVER", "lru")),
			RedisAddr:  getenv("REDIS_ADDR", "localhost:6379"),
			TTL:        ttl,
			MaxEntries: getint("BYTE_CACHE_MAX_ENTRIES", 256),
			OpTimeout:  getduration("BYTE_CACHE_OP_TIMEOUT", 250*time.Millisecond),
		},
		Invalidation: InvalidationCfg{
			Enabled:          getbool("INVALIDATION_ENABLED", false),
			Driver:           getenv("INVALIDATION_DRIVER", "none"),
			Topic:            getenv("KAFKA_TOPIC", "layer-republish"),
			Brokers:          getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID:          getenv("KAFKA_GROUP_ID", "layer-invalidator"),
			SessionTimeout:   getduration("KAFKA_SESSION_TIMEOUT", 10*time.Second),
			Heartbeat:        getduration("KAFKA_HEARTBEAT", 3*time.Second),
			RebalanceTimeout: getduration("KAFKA_REBALANCE_TIMEOUT", 60*time.Second),
			InitialOldest:    getbool("KAFKA_INITIAL_OLDEST", false),
		},
		SessionIdle: getduration("SESSION_IDLE_TTL", 15*time.Minute),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parse "slot=layer,slot=layer" into a map
func parsePairMap(s string) map[string]string {
	out := map[string]string{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
