package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CurveType identifies the ciphersuite a wallet or session uses
type CurveType string

func (c CurveType) String() string {
	return string(c)
}

const (
	CurveTypeUnknown   CurveType = "unknown"
	CurveTypeSecp256k1 CurveType = "secp256k1"
	CurveTypeEd25519   CurveType = "ed25519"
)

// ParseCurveType parses a curve tag from its wire/config string form
func ParseCurveType(s string) (CurveType, error) {
	switch strings.ToLower(s) {
	case "secp256k1":
		return CurveTypeSecp256k1, nil
	case "ed25519":
		return CurveTypeEd25519, nil
	default:
		return CurveTypeUnknown, fmt.Errorf("unsupported curve type: %s", s)
	}
}

// Environment variable names for node configuration
const (
	EnvRelayURL         = "WALLET_RELAY_URL"
	EnvDeviceID         = "WALLET_DEVICE_ID"
	EnvKeystorePath     = "WALLET_KEYSTORE_PATH"
	EnvWalletPassword   = "WALLET_PASSWORD"
	EnvPBKDF2Iterations = "WALLET_PBKDF2_ITERATIONS"
	EnvPersistenceType  = "WALLET_PERSISTENCE_TYPE"
	EnvPersistencePath  = "WALLET_PERSISTENCE_DATA_PATH"
	EnvRedisAddress     = "WALLET_REDIS_ADDRESS"
	EnvRedisPassword    = "WALLET_REDIS_PASSWORD"
	EnvRedisDB          = "WALLET_REDIS_DB"
	EnvVerbose          = "WALLET_VERBOSE"
)

// PBKDF2 iteration bounds. Values outside the bounds are clamped, not
// rejected.
const (
	DefaultPBKDF2Iterations = 210_000
	MinPBKDF2Iterations     = 100_000
	MaxPBKDF2Iterations     = 1_000_000
)

// Default session timing parameters
const (
	DefaultSessionTimeout = 10 * time.Minute
	DefaultRoundTimeout   = 60 * time.Second
	DefaultSigningTimeout = 60 * time.Second
)

// RedisConfig holds Redis persistence settings
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// PersistenceConfig selects and configures the node-state backend
type PersistenceConfig struct {
	Type        string // "memory", "badger", or "redis"
	DataPath    string
	RedisConfig *RedisConfig
}

// NodeConfig holds the full wallet node configuration
type NodeConfig struct {
	RelayURL         string
	DeviceID         string
	KeystorePath     string
	WalletPassword   string
	PBKDF2Iterations int
	SessionTimeout   time.Duration
	RoundTimeout     time.Duration
	SigningTimeout   time.Duration
	DefaultCurve     CurveType
	StunServers      []string
	Persistence      PersistenceConfig
	Debug            bool
}

// Validate checks required fields, fills defaults, and clamps the PBKDF2
// iteration count. A missing device id is generated rather than rejected.
func (c *NodeConfig) Validate() error {
	if c.RelayURL == "" {
		return fmt.Errorf("relay URL is required")
	}
	if c.KeystorePath == "" {
		return fmt.Errorf("keystore path is required")
	}
	if c.DeviceID == "" {
		c.DeviceID = GenerateDeviceID()
	}
	if c.PBKDF2Iterations == 0 {
		c.PBKDF2Iterations = DefaultPBKDF2Iterations
	}
	c.PBKDF2Iterations = ClampPBKDF2Iterations(c.PBKDF2Iterations)
	if c.SessionTimeout == 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.RoundTimeout == 0 {
		c.RoundTimeout = DefaultRoundTimeout
	}
	if c.SigningTimeout == 0 {
		c.SigningTimeout = DefaultSigningTimeout
	}
	if c.DefaultCurve == "" {
		c.DefaultCurve = CurveTypeSecp256k1
	}
	if len(c.StunServers) == 0 {
		c.StunServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.Persistence.Type == "" {
		c.Persistence.Type = "memory"
	}
	switch c.Persistence.Type {
	case "memory", "badger", "redis":
	default:
		return fmt.Errorf("unsupported persistence type: %s", c.Persistence.Type)
	}
	return nil
}

// ClampPBKDF2Iterations bounds an iteration count to the supported range
func ClampPBKDF2Iterations(n int) int {
	if n < MinPBKDF2Iterations {
		return MinPBKDF2Iterations
	}
	if n > MaxPBKDF2Iterations {
		return MaxPBKDF2Iterations
	}
	return n
}

// GenerateDeviceID produces a fresh device identity for nodes started
// without one
func GenerateDeviceID() string {
	return "device-" + uuid.NewString()[:8]
}
