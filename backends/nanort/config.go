// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nanort

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/gomlx/nanort/pkg/support/workerspool"
	"github.com/pkg/errors"
)

// ConfigEnv is the environment variable with the default configuration, see ConfigFromEnv.
//
// The format is the one of ParseConfig. E.g.: NANORT_CONFIG="parallelism=4,sizes=bound".
const ConfigEnv = "NANORT_CONFIG"

// SizeCheck defines how Executable.Execute checks the size of the views given against the slot sizes.
type SizeCheck int

const (
	// SizeCheckExact requires arguments and results to have the exact slot size. This is the default.
	SizeCheckExact SizeCheck = iota

	// SizeCheckBound accepts arguments and results larger than the slot: the program only sees
	// the first bytes, up to the slot size.
	SizeCheckBound
)

// String implements fmt.Stringer.
func (c SizeCheck) String() string {
	switch c {
	case SizeCheckExact:
		return "exact"
	case SizeCheckBound:
		return "bound"
	default:
		return "SizeCheck(" + strconv.Itoa(int(c)) + ")"
	}
}

// Config of executables and of the pool they run on.
type Config struct {
	// MaxParallelism of the pools created with NewPool. 0 disables parallelism (executions still run
	// asynchronously, but one at a time) and -1 makes it unlimited.
	MaxParallelism int

	// SizeCheck used by Executable.Execute.
	SizeCheck SizeCheck
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MaxParallelism: runtime.NumCPU(),
		SizeCheck:      SizeCheckExact,
	}
}

// ParseConfig parses a comma-separated list of "key=value" options, starting from DefaultConfig.
// An empty string returns DefaultConfig.
//
// Options:
//
//   - "parallelism=<n>": MaxParallelism of the pool. Use "unlimited" for -1.
//   - "sequential": same as "parallelism=0".
//   - "sizes=exact" or "sizes=bound": see SizeCheck.
func ParseConfig(config string) (Config, error) {
	cfg := DefaultConfig()
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "parallelism":
			if !hasValue {
				return cfg, errors.Errorf("config %q: option %q requires a value", config, key)
			}
			if value == "unlimited" {
				cfg.MaxParallelism = -1
				continue
			}
			n, err := strconv.Atoi(value)
			if err != nil || n < -1 {
				return cfg, errors.Errorf("config %q: invalid parallelism %q", config, value)
			}
			cfg.MaxParallelism = n
		case "sequential":
			cfg.MaxParallelism = 0
		case "sizes":
			switch value {
			case "exact":
				cfg.SizeCheck = SizeCheckExact
			case "bound":
				cfg.SizeCheck = SizeCheckBound
			default:
				return cfg, errors.Errorf("config %q: invalid sizes %q, valid values are \"exact\" and \"bound\"", config, value)
			}
		default:
			return cfg, errors.Errorf("config %q: unknown option %q", config, key)
		}
	}
	return cfg, nil
}

// ConfigFromEnv parses the configuration in the environment variable ConfigEnv, or returns
// DefaultConfig if it is not set.
func ConfigFromEnv() (Config, error) {
	config, found := os.LookupEnv(ConfigEnv)
	if !found {
		return DefaultConfig(), nil
	}
	cfg, err := ParseConfig(config)
	if err != nil {
		return cfg, errors.WithMessagef(err, "while parsing $%s", ConfigEnv)
	}
	return cfg, nil
}

// NewPool returns a new workers pool configured with cfg.MaxParallelism.
// The pool can be shared by any number of executables.
func NewPool(cfg Config) *workerspool.Pool {
	pool := workerspool.New()
	pool.SetMaxParallelism(cfg.MaxParallelism)
	return pool
}
