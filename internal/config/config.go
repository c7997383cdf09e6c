// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for server, shield and service settings.
//
// Values are resolved in three layers: compiled defaults, an optional TOML
// file (only keys present in the file override), then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// SHIELD CONFIGURATION
// =============================================================================

// ShieldConfig holds the shield plugin settings.
type ShieldConfig struct {
	DefaultStrength float64 // Push factor used when a player never set one
	DefaultRadius   float64 // Detection radius used when a player never set one
	MinStrength     float64
	MaxStrength     float64
	MinRadius       float64
	MaxRadius       float64
	TaskInterval    int64 // Push task period, in server ticks
}

// Hard bounds for the shield settings. Configured ranges may narrow them,
// never widen them.
const (
	StrengthFloor   = 0.0
	StrengthCeiling = 10.0
	RadiusFloor     = 1.0
	RadiusCeiling   = 10.0
)

// DefaultShield returns the default shield configuration.
func DefaultShield() ShieldConfig {
	return ShieldConfig{
		DefaultStrength: 1.0,
		DefaultRadius:   3.0,
		MinStrength:     StrengthFloor,
		MaxStrength:     StrengthCeiling,
		MinRadius:       RadiusFloor,
		MaxRadius:       RadiusCeiling,
		TaskInterval:    5, // 0.25s at 20 TPS
	}
}

// ShieldFromEnv returns shield configuration with environment variable overrides.
func ShieldFromEnv(cfg ShieldConfig) ShieldConfig {
	if v := getEnvFloat("SHIELD_DEFAULT_STRENGTH", -1); v >= 0 {
		cfg.DefaultStrength = v
	}
	if v := getEnvFloat("SHIELD_DEFAULT_RADIUS", -1); v > 0 {
		cfg.DefaultRadius = v
	}
	if v := getEnvInt("SHIELD_TASK_INTERVAL", 0); v > 0 {
		cfg.TaskInterval = int64(v)
	}
	return cfg
}

// =============================================================================
// GAME SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds the host game server settings.
type ServerConfig struct {
	TickRate      int     // Ticks per second
	AutosaveTicks int64   // Player data autosave period, in ticks
	Drag          float64 // Velocity multiplier applied every tick
	MaxEntities   int     // Hard cap on spawned entities
	Spawn         [3]float64
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		TickRate:      20,
		AutosaveTicks: 20 * 60 * 5, // 5 minutes
		Drag:          0.91,
		MaxEntities:   10_000,
		Spawn:         [3]float64{0, 64, 0},
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv(cfg ServerConfig) ServerConfig {
	if tps := getEnvInt("TICK_RATE", 0); tps > 0 {
		cfg.TickRate = tps
	}
	if n := getEnvInt("AUTOSAVE_TICKS", 0); n > 0 {
		cfg.AutosaveTicks = int64(n)
	}
	if n := getEnvInt("MAX_ENTITIES", 0); n > 0 {
		cfg.MaxEntities = n
	}
	return cfg
}

// =============================================================================
// SPATIAL CONFIGURATION
// =============================================================================

// SpatialConfig holds spatial indexing settings.
// The grid covers the X/Z plane; entities outside the bounds are clamped
// into the edge cells so queries stay correct, only slower.
type SpatialConfig struct {
	MinX, MinZ    float64
	Width, Depth  float64
	GridCellSize  float64 // Should be >= the largest query radius
	ExpectedCount int     // Used to preallocate cell capacity
}

// DefaultSpatial returns the default spatial configuration.
func DefaultSpatial() SpatialConfig {
	return SpatialConfig{
		MinX:          -512,
		MinZ:          -512,
		Width:         1024,
		Depth:         1024,
		GridCellSize:  16, // one chunk, covers the max shield radius of 10
		ExpectedCount: 1024,
	}
}

// =============================================================================
// STORAGE CONFIGURATION
// =============================================================================

// StorageConfig selects the persistent player data backend.
type StorageConfig struct {
	Driver string // "sqlite" or "memory"
	Path   string // SQLite database file
}

// DefaultStorage returns the default storage configuration.
func DefaultStorage() StorageConfig {
	return StorageConfig{
		Driver: "sqlite",
		Path:   "data/players.db",
	}
}

// StorageFromEnv returns storage configuration with environment variable overrides.
func StorageFromEnv(cfg StorageConfig) StorageConfig {
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		cfg.Path = v
	}
	return cfg
}

// =============================================================================
// PERMISSIONS CONFIGURATION
// =============================================================================

// PermissionsConfig points at the permissions file.
type PermissionsConfig struct {
	Path  string
	Watch bool // Reload the file when it changes on disk
}

// DefaultPermissions returns the default permissions configuration.
func DefaultPermissions() PermissionsConfig {
	return PermissionsConfig{
		Path:  "permissions.yml",
		Watch: true,
	}
}

// PermissionsFromEnv returns permissions configuration with environment variable overrides.
func PermissionsFromEnv(cfg PermissionsConfig) PermissionsConfig {
	if v := os.Getenv("PERMISSIONS_PATH"); v != "" {
		cfg.Path = v
	}
	if os.Getenv("PERMISSIONS_WATCH") == "false" {
		cfg.Watch = false
	}
	return cfg
}

// =============================================================================
// API CONFIGURATION
// =============================================================================

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Enabled           bool
	Port              int
	BroadcastInterval time.Duration // WebSocket snapshot feed period
	DebugAddr         string        // pprof + metrics, localhost only
	DebugEnabled      bool
	AdminToken        string   // required on POST routes when set
	CORSOrigins       []string // allowed besides loopback, for CORS and /ws
}

// DefaultAPI returns the default API configuration.
func DefaultAPI() APIConfig {
	return APIConfig{
		Enabled:           true,
		Port:              3000,
		BroadcastInterval: 250 * time.Millisecond,
		DebugAddr:         "127.0.0.1:6060",
		DebugEnabled:      true,
	}
}

// APIFromEnv returns API configuration with environment variable overrides.
func APIFromEnv(cfg APIConfig) APIConfig {
	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if os.Getenv("API_ENABLED") == "false" {
		cfg.Enabled = false
	}
	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		cfg.DebugEnabled = false
	}
	if v := os.Getenv("API_ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("API_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	return cfg
}

// =============================================================================
// CONSOLE CONFIGURATION
// =============================================================================

// ConsoleConfig holds the SSH console settings.
type ConsoleConfig struct {
	Enabled     bool
	Host        string
	Port        int
	HostKeyPath string
}

// DefaultConsole returns the default console configuration.
func DefaultConsole() ConsoleConfig {
	return ConsoleConfig{
		Enabled:     true,
		Host:        "0.0.0.0",
		Port:        2222,
		HostKeyPath: "data/host_key",
	}
}

// ConsoleFromEnv returns console configuration with environment variable overrides.
func ConsoleFromEnv(cfg ConsoleConfig) ConsoleConfig {
	if v := os.Getenv("SSH_HOST"); v != "" {
		cfg.Host = v
	}
	if p := getEnvInt("SSH_PORT", 0); p > 0 {
		cfg.Port = p
	}
	if v := os.Getenv("SSH_HOST_KEY"); v != "" {
		cfg.HostKeyPath = v
	}
	if os.Getenv("SSH_ENABLED") == "false" {
		cfg.Enabled = false
	}
	return cfg
}

// =============================================================================
// LOGGING CONFIGURATION
// =============================================================================

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string // debug, info, warn, error
	Development bool   // Console encoder instead of JSON
}

// DefaultLog returns the default logging configuration.
func DefaultLog() LogConfig {
	return LogConfig{Level: "info"}
}

// LogFromEnv returns logging configuration with environment variable overrides.
func LogFromEnv(cfg LogConfig) LogConfig {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Level = strings.ToLower(v)
	}
	if os.Getenv("LOG_DEV") == "true" {
		cfg.Development = true
	}
	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Shield      ShieldConfig
	Server      ServerConfig
	Spatial     SpatialConfig
	Storage     StorageConfig
	Permissions PermissionsConfig
	API         APIConfig
	Console     ConsoleConfig
	Log         LogConfig
}

// Default returns the complete configuration with compiled defaults only.
func Default() AppConfig {
	return AppConfig{
		Shield:      DefaultShield(),
		Server:      DefaultServer(),
		Spatial:     DefaultSpatial(),
		Storage:     DefaultStorage(),
		Permissions: DefaultPermissions(),
		API:         DefaultAPI(),
		Console:     DefaultConsole(),
		Log:         DefaultLog(),
	}
}

// Load returns the complete configuration: defaults, then the TOML file at
// path (skipped when path is empty or the file does not exist), then
// environment overrides.
func Load(path string) (AppConfig, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return AppConfig{}, err
			}
		}
	}

	cfg.Shield = ShieldFromEnv(cfg.Shield)
	cfg.Server = ServerFromEnv(cfg.Server)
	cfg.Storage = StorageFromEnv(cfg.Storage)
	cfg.Permissions = PermissionsFromEnv(cfg.Permissions)
	cfg.API = APIFromEnv(cfg.API)
	cfg.Console = ConsoleFromEnv(cfg.Console)
	cfg.Log = LogFromEnv(cfg.Log)

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c AppConfig) Validate() error {
	if c.Server.TickRate <= 0 {
		return fmt.Errorf("config: tick rate must be positive, got %d", c.Server.TickRate)
	}
	if c.Shield.TaskInterval <= 0 {
		return fmt.Errorf("config: shield task interval must be positive, got %d", c.Shield.TaskInterval)
	}
	if err := checkRange("strength", c.Shield.MinStrength, c.Shield.MaxStrength, c.Shield.DefaultStrength, StrengthFloor, StrengthCeiling); err != nil {
		return err
	}
	if err := checkRange("radius", c.Shield.MinRadius, c.Shield.MaxRadius, c.Shield.DefaultRadius, RadiusFloor, RadiusCeiling); err != nil {
		return err
	}
	if c.Spatial.GridCellSize <= 0 {
		return fmt.Errorf("config: grid cell size must be positive, got %g", c.Spatial.GridCellSize)
	}
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}

// checkRange requires floor <= lo <= def <= hi <= ceiling.
func checkRange(name string, lo, hi, def, floor, ceiling float64) error {
	if lo > hi {
		return fmt.Errorf("config: shield %s range [%g, %g] is empty", name, lo, hi)
	}
	if lo < floor || hi > ceiling {
		return fmt.Errorf("config: shield %s range [%g, %g] exceeds [%g, %g]", name, lo, hi, floor, ceiling)
	}
	if def < lo || def > hi {
		return fmt.Errorf("config: default shield %s %g outside [%g, %g]", name, def, lo, hi)
	}
	return nil
}

// =============================================================================
// TOML FILE
// =============================================================================

type fileConfig struct {
	Shield struct {
		DefaultStrength float64 `toml:"default_strength"`
		DefaultRadius   float64 `toml:"default_radius"`
		TaskInterval    int64   `toml:"task_interval"`
	} `toml:"shield"`
	Server struct {
		TickRate      int        `toml:"tick_rate"`
		AutosaveTicks int64      `toml:"autosave_ticks"`
		Drag          float64    `toml:"drag"`
		MaxEntities   int        `toml:"max_entities"`
		Spawn         [3]float64 `toml:"spawn"`
	} `toml:"server"`
	Spatial struct {
		GridCellSize float64 `toml:"grid_cell_size"`
	} `toml:"spatial"`
	Storage struct {
		Driver string `toml:"driver"`
		Path   string `toml:"path"`
	} `toml:"storage"`
	Permissions struct {
		Path  string `toml:"path"`
		Watch bool   `toml:"watch"`
	} `toml:"permissions"`
	API struct {
		Enabled           bool     `toml:"enabled"`
		Port              int      `toml:"port"`
		BroadcastInterval string   `toml:"broadcast_interval"`
		AdminToken        string   `toml:"admin_token"`
		CORSOrigins       []string `toml:"cors_origins"`
	} `toml:"api"`
	Console struct {
		Enabled     bool   `toml:"enabled"`
		Host        string `toml:"host"`
		Port        int    `toml:"port"`
		HostKeyPath string `toml:"host_key_path"`
	} `toml:"console"`
	Log struct {
		Level       string `toml:"level"`
		Development bool   `toml:"development"`
	} `toml:"log"`
}

func applyFile(cfg *AppConfig, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	if meta.IsDefined("shield", "default_strength") {
		cfg.Shield.DefaultStrength = raw.Shield.DefaultStrength
	}
	if meta.IsDefined("shield", "default_radius") {
		cfg.Shield.DefaultRadius = raw.Shield.DefaultRadius
	}
	if meta.IsDefined("shield", "task_interval") {
		cfg.Shield.TaskInterval = raw.Shield.TaskInterval
	}

	if meta.IsDefined("server", "tick_rate") {
		cfg.Server.TickRate = raw.Server.TickRate
	}
	if meta.IsDefined("server", "autosave_ticks") {
		cfg.Server.AutosaveTicks = raw.Server.AutosaveTicks
	}
	if meta.IsDefined("server", "drag") {
		cfg.Server.Drag = raw.Server.Drag
	}
	if meta.IsDefined("server", "max_entities") {
		cfg.Server.MaxEntities = raw.Server.MaxEntities
	}
	if meta.IsDefined("server", "spawn") {
		cfg.Server.Spawn = raw.Server.Spawn
	}

	if meta.IsDefined("spatial", "grid_cell_size") {
		cfg.Spatial.GridCellSize = raw.Spatial.GridCellSize
	}

	if meta.IsDefined("storage", "driver") {
		cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(raw.Storage.Driver))
	}
	if meta.IsDefined("storage", "path") {
		cfg.Storage.Path = raw.Storage.Path
	}

	if meta.IsDefined("permissions", "path") {
		cfg.Permissions.Path = raw.Permissions.Path
	}
	if meta.IsDefined("permissions", "watch") {
		cfg.Permissions.Watch = raw.Permissions.Watch
	}

	if meta.IsDefined("api", "enabled") {
		cfg.API.Enabled = raw.API.Enabled
	}
	if meta.IsDefined("api", "port") {
		cfg.API.Port = raw.API.Port
	}
	if meta.IsDefined("api", "broadcast_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.API.BroadcastInterval))
		if err != nil {
			return fmt.Errorf("parse api.broadcast_interval: %w", err)
		}
		cfg.API.BroadcastInterval = d
	}
	if meta.IsDefined("api", "admin_token") {
		cfg.API.AdminToken = raw.API.AdminToken
	}
	if meta.IsDefined("api", "cors_origins") {
		cfg.API.CORSOrigins = raw.API.CORSOrigins
	}

	if meta.IsDefined("console", "enabled") {
		cfg.Console.Enabled = raw.Console.Enabled
	}
	if meta.IsDefined("console", "host") {
		cfg.Console.Host = raw.Console.Host
	}
	if meta.IsDefined("console", "port") {
		cfg.Console.Port = raw.Console.Port
	}
	if meta.IsDefined("console", "host_key_path") {
		cfg.Console.HostKeyPath = raw.Console.HostKeyPath
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.ToLower(raw.Log.Level)
	}
	if meta.IsDefined("log", "development") {
		cfg.Log.Development = raw.Log.Development
	}

	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// splitList splits a comma-separated value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
