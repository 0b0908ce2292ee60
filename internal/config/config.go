// Package config loads and validates the client library's own
// configuration: vendor credentials, MQTT/poll tuning, and per-VIN
// command grants. Precedence is base -> env -> tenant file -> env-var
// overrides -> explicit caller overrides, the teacher's layered config
// idiom, decoded straight into the known Config fields rather than
// through a generic multi-document bundle/profile-validator pipeline —
// nothing in this repository needs a config shape beyond Config.
package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DeviceIdentity is the device-fingerprint block the vendor's
// account/login endpoint requires (spec.md §6).
type DeviceIdentity struct {
	IMEI  string
	MAC   string
	Model string
	SDK   string
	Mod   string
}

// Config is the fully resolved, validated configuration for one
// client instance.
type Config struct {
	BaseURL     string
	Username    string
	Password    string
	ControlPIN  string
	CountryCode string
	Language    string
	UserAgent   string

	MQTTEnabled   bool
	MQTTHost      string
	MQTTKeepalive time.Duration
	MQTTTimeout   time.Duration

	SessionTTL   time.Duration
	PollInterval time.Duration
	PollAttempts int
	HTTPTimeout  time.Duration

	Device DeviceIdentity

	// Grants is the per-VIN command allow/deny list, keyed by command
	// code string (internal/command.Code is a defined string type, so
	// callers cast these keys when building a command.PermOptions).
	Grants map[string]map[string]bool
}

// Options tunes how configuration is loaded.
type Options struct {
	Root   string // filesystem root config files are resolved under
	Env    string
	Tenant string

	// Overrides are applied as the final layer, on top of the loaded
	// file tiers and environment variables — the "explicit final
	// layer" role the teacher's merge options play for ad hoc per-call
	// overrides.
	Overrides map[string]any
}

// Load resolves configuration rooted at opts.Root, returning a typed
// Config.
func Load(ctx context.Context, opts Options) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := strings.TrimSpace(opts.Root)
	if root == "" {
		root = "."
	}

	docs, err := loadLayers(root, strings.TrimSpace(opts.Env), strings.TrimSpace(opts.Tenant))
	if err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}

	merged := map[string]any{}
	for _, d := range docs {
		merged = mergeInto(merged, d.data)
	}
	if env := envOverrides(); env != nil {
		merged = mergeInto(merged, env)
	}
	if len(opts.Overrides) > 0 {
		merged = mergeInto(merged, opts.Overrides)
	}

	return decode(merged)
}

func decode(data map[string]any) (*Config, error) {
	c := &Config{
		CountryCode:   stringField(data, "countryCode", ""),
		Language:      stringField(data, "language", "en"),
		UserAgent:     stringField(data, "userAgent", "vehiclecore/1.0"),
		BaseURL:       stringField(data, "baseUrl", ""),
		Username:      stringField(data, "username", ""),
		Password:      stringField(data, "password", ""),
		ControlPIN:    stringField(data, "controlPin", ""),
		MQTTEnabled:   boolField(data, "mqttEnabled", true),
		MQTTHost:      stringField(data, "mqttHost", ""),
		MQTTKeepalive: durationField(data, "mqttKeepaliveSeconds", 60*time.Second),
		MQTTTimeout:   durationField(data, "mqttTimeoutSeconds", 10*time.Second),
		SessionTTL:    durationField(data, "sessionTtlSeconds", 30*time.Minute),
		PollInterval:  durationField(data, "pollIntervalSeconds", 3*time.Second),
		PollAttempts:  intField(data, "pollAttempts", 5),
		HTTPTimeout:   durationField(data, "httpTimeoutSeconds", 15*time.Second),
	}

	if dev, ok := data["deviceIdentity"].(map[string]any); ok {
		c.Device = DeviceIdentity{
			IMEI:  stringField(dev, "imei", ""),
			MAC:   stringField(dev, "mac", ""),
			Model: stringField(dev, "model", ""),
			SDK:   stringField(dev, "sdk", ""),
			Mod:   stringField(dev, "mod", ""),
		}
	}

	if raw, ok := data["grants"].(map[string]any); ok {
		c.Grants = make(map[string]map[string]bool, len(raw))
		for vin, v := range raw {
			perVin, ok := v.(map[string]any)
			if !ok {
				continue
			}
			m := make(map[string]bool, len(perVin))
			for code, allowed := range perVin {
				b, _ := allowed.(bool)
				m[strings.ToUpper(code)] = b
			}
			c.Grants[vin] = m
		}
	}

	if c.Username == "" {
		return nil, fmt.Errorf("config: username is required")
	}
	return c, nil
}

func stringField(m map[string]any, key, def string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func boolField(m map[string]any, key string, def bool) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func intField(m map[string]any, key string, def int) int {
	if v, ok := m[key]; ok {
		switch x := v.(type) {
		case float64:
			return int(x)
		case int:
			return x
		case string:
			if n, err := strconv.Atoi(x); err == nil {
				return n
			}
		}
	}
	return def
}

func durationField(m map[string]any, key string, def time.Duration) time.Duration {
	n := intField(m, key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
