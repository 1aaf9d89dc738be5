package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/devicelab-dev/publish-agent/pkg/core"
)

// StorageKey is the key the agent Config blob is persisted under.
const StorageKey = "agent.config"

// Rand is the randomness source for delay sampling. *rand.Rand satisfies it.
type Rand interface {
	Int63n(n int64) int64
}

// Range is an inclusive millisecond interval.
type Range struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Sample draws a uniform duration from [Min, Max].
func (r Range) Sample(rng Rand) time.Duration {
	if r.Max <= r.Min {
		return time.Duration(r.Min) * time.Millisecond
	}
	ms := int64(r.Min) + rng.Int63n(int64(r.Max-r.Min)+1)
	return time.Duration(ms) * time.Millisecond
}

// IsZero reports whether both bounds are zero.
func (r Range) IsZero() bool { return r.Min == 0 && r.Max == 0 }

// Validate checks 0 <= Min <= Max.
func (r Range) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Min, validation.Min(0)),
		validation.Field(&r.Max, validation.By(func(interface{}) error {
			if r.Max < r.Min {
				return fmt.Errorf("must be >= min (%d)", r.Min)
			}
			return nil
		})),
	)
}

// Config holds the agent options. It is replaced as a whole on apply and
// persisted as JSON under StorageKey.
type Config struct {
	PerItemDelay            Range  `json:"perItemDelay"`
	PerStepDelay            Range  `json:"perStepDelay"`
	MaxRetries              int    `json:"maxRetries"`
	AutoSubmit              bool   `json:"autoSubmit"`
	SimulateOnly            bool   `json:"simulateOnly"`
	HeartbeatIntervalMs     int    `json:"heartbeatIntervalMs"`
	ClientIdentity          string `json:"clientIdentity"`
	HumanInteractionEnabled bool   `json:"humanInteractionEnabled"`

	TypingDelay            Range `json:"typingDelay"`
	PointerDelay           Range `json:"pointerDelay"`
	LocateTimeoutMs        int   `json:"locateTimeoutMs"`
	PollIntervalMs         int   `json:"pollIntervalMs"`
	BackoffBaseMs          int   `json:"backoffBaseMs"`
	BackoffCapMs           int   `json:"backoffCapMs"`
	HealthFailureThreshold int   `json:"healthFailureThreshold"`
	SnapshotIntervalMs     int   `json:"snapshotIntervalMs"`
	SessionTTLMs           int   `json:"sessionTtlMs"`
	FetchBatchSize         int   `json:"fetchBatchSize"`
	LogCapacity            int   `json:"logCapacity"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PerItemDelay:            Range{Min: 30000, Max: 90000},
		PerStepDelay:            Range{Min: 800, Max: 2500},
		MaxRetries:              2,
		AutoSubmit:              true,
		SimulateOnly:            false,
		HeartbeatIntervalMs:     30000,
		HumanInteractionEnabled: true,

		TypingDelay:            Range{Min: 40, Max: 160},
		PointerDelay:           Range{Min: 30, Max: 120},
		LocateTimeoutMs:        10000,
		PollIntervalMs:         400,
		BackoffBaseMs:          2000,
		BackoffCapMs:           10000,
		HealthFailureThreshold: 3,
		SnapshotIntervalMs:     5000,
		SessionTTLMs:           3600000,
		FetchBatchSize:         5,
		LogCapacity:            300,
	}
}

// Merge decodes a persisted blob on top of the defaults. Missing keys keep
// their default and unknown keys are ignored, so older blobs load cleanly.
func Merge(raw []byte) (Config, error) {
	cfg := Default()
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Default(), core.ErrInvalidConfig.WithMessage("stored config is not valid JSON").WithCause(err)
	}
	return cfg, nil
}

// Apply returns a copy of c with the partial values merged in. Range values
// merge per bound, so {"perItemDelay": {"max": 5000}} keeps the current min.
// Unknown keys and invalid results are rejected; c is never modified.
func (c Config) Apply(partial map[string]interface{}) (Config, error) {
	current, err := c.toMap()
	if err != nil {
		return c, err
	}

	var unknown []string
	for k, v := range partial {
		cur, ok := current[k]
		if !ok {
			unknown = append(unknown, k)
			continue
		}
		curMap, curIsMap := cur.(map[string]interface{})
		newMap, newIsMap := v.(map[string]interface{})
		if curIsMap && newIsMap {
			for mk, mv := range newMap {
				curMap[mk] = mv
			}
			continue
		}
		current[k] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return c, core.ErrInvalidConfig.WithMessagef("unknown config keys: %v", unknown)
	}

	data, err := json.Marshal(current)
	if err != nil {
		return c, core.ErrInvalidConfig.WithCause(err)
	}
	var next Config
	if err := json.Unmarshal(data, &next); err != nil {
		return c, core.ErrInvalidConfig.WithMessage("config value has the wrong type").WithCause(err)
	}
	if err := next.Validate(); err != nil {
		return c, core.ErrInvalidConfig.WithCause(err)
	}
	return next, nil
}

func (c Config) toMap() (map[string]interface{}, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode serializes the config for persistence.
func (c Config) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// Validate checks value ranges.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.PerItemDelay),
		validation.Field(&c.PerStepDelay),
		validation.Field(&c.TypingDelay),
		validation.Field(&c.PointerDelay),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.HeartbeatIntervalMs, validation.Required, validation.Min(100)),
		validation.Field(&c.LocateTimeoutMs, validation.Required, validation.Min(1)),
		validation.Field(&c.PollIntervalMs, validation.Required, validation.Min(10)),
		validation.Field(&c.BackoffBaseMs, validation.Min(0)),
		validation.Field(&c.BackoffCapMs, validation.Min(c.BackoffBaseMs)),
		validation.Field(&c.HealthFailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.SnapshotIntervalMs, validation.Required, validation.Min(10)),
		validation.Field(&c.SessionTTLMs, validation.Required, validation.Min(1)),
		validation.Field(&c.FetchBatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.LogCapacity, validation.Required, validation.Min(1)),
	)
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// HeartbeatInterval returns the health probe period.
func (c Config) HeartbeatInterval() time.Duration { return ms(c.HeartbeatIntervalMs) }

// LocateTimeout returns the default resolver timeout.
func (c Config) LocateTimeout() time.Duration { return ms(c.LocateTimeoutMs) }

// PollInterval returns the resolver poll interval.
func (c Config) PollInterval() time.Duration { return ms(c.PollIntervalMs) }

// BackoffBase returns the first retry delay.
func (c Config) BackoffBase() time.Duration { return ms(c.BackoffBaseMs) }

// BackoffCap returns the maximum retry delay.
func (c Config) BackoffCap() time.Duration { return ms(c.BackoffCapMs) }

// SnapshotInterval returns the session snapshot period.
func (c Config) SnapshotInterval() time.Duration { return ms(c.SnapshotIntervalMs) }

// SessionTTL returns the maximum age of a recoverable snapshot.
func (c Config) SessionTTL() time.Duration { return ms(c.SessionTTLMs) }
