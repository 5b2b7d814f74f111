package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds API server configuration.
type Config struct {
	DatabaseURL         string
	DatabaseMaxConns    int32
	ServerAddr          string
	StorageDriver       string
	MigrationsDir       string
	SessionTTL          time.Duration
	SessionCookieName   string
	SessionCookieSecure bool
	AuditSigningKey     []byte
	DefaultPageLimit    int
	MaxPageLimit        int
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "commission_hub")
		pass := getenv("POSTGRES_PASSWORD", "commission_hub_pass")
		db := getenv("POSTGRES_DB", "commission_hub")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	driver := strings.ToLower(getenv("STORAGE_DRIVER", StoragePostgres))
	if driver != StoragePostgres && driver != StorageMemory {
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", driver)
	}

	var auditKey []byte
	if raw := os.Getenv("AUDIT_SIGNING_KEY"); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("AUDIT_SIGNING_KEY must be hex: %w", err)
		}
		auditKey = key
	}

	defaultLimit := parseInt(getenv("DEFAULT_PAGE_LIMIT", "50"), 50)
	maxLimit := parseInt(getenv("MAX_PAGE_LIMIT", "200"), 200)
	if defaultLimit <= 0 || maxLimit <= 0 || defaultLimit > maxLimit {
		return nil, fmt.Errorf("invalid page limits: default=%d max=%d", defaultLimit, maxLimit)
	}

	return &Config{
		DatabaseURL:         dsn,
		DatabaseMaxConns:    int32(parseInt(getenv("DATABASE_MAX_CONNS", "0"), 0)),
		ServerAddr:          getenv("SERVER_ADDR", "0.0.0.0:8080"),
		StorageDriver:       driver,
		MigrationsDir:       getenv("MIGRATIONS_DIR", "internal/migrations"),
		SessionTTL:          parseDuration(getenv("SESSION_TTL", "24h"), 24*time.Hour),
		SessionCookieName:   getenv("SESSION_COOKIE_NAME", "commission_hub_session"),
		SessionCookieSecure: parseBool(getenv("SESSION_COOKIE_SECURE", "false"), false),
		AuditSigningKey:     auditKey,
		DefaultPageLimit:    defaultLimit,
		MaxPageLimit:        maxLimit,
	}, nil
}

// LedgerConfig holds replicated ledger node configuration.
type LedgerConfig struct {
	NodeID         string
	RaftAddr       string
	HTTPAddr       string
	DataDir        string
	Bootstrap      bool
	ApplyTimeout   time.Duration
	JoinEndpoint   string
	JoinRetries    int
	JoinRetryDelay time.Duration
}

// LoadLedger reads ledger node configuration from environment.
func LoadLedger() (*LedgerConfig, error) {
	nodeID := strings.TrimSpace(os.Getenv("LEDGER_NODE_ID"))
	if nodeID == "" {
		return nil, fmt.Errorf("LEDGER_NODE_ID is required")
	}
	return &LedgerConfig{
		NodeID:         nodeID,
		RaftAddr:       getenv("LEDGER_RAFT_ADDR", "127.0.0.1:7000"),
		HTTPAddr:       getenv("LEDGER_HTTP_ADDR", "127.0.0.1:8090"),
		DataDir:        getenv("LEDGER_DATA_DIR", "./data/"+nodeID),
		Bootstrap:      parseBool(os.Getenv("LEDGER_BOOTSTRAP"), false),
		ApplyTimeout:   parseDuration(os.Getenv("LEDGER_APPLY_TIMEOUT"), 5*time.Second),
		JoinEndpoint:   strings.TrimSpace(os.Getenv("LEDGER_JOIN_ENDPOINT")),
		JoinRetries:    parseInt(os.Getenv("LEDGER_JOIN_RETRIES"), 10),
		JoinRetryDelay: parseDuration(os.Getenv("LEDGER_JOIN_RETRY_DELAY"), 2*time.Second),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
