package config

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/arm-smmu/smmuv3/pkg/smmu/types"
)

// recognizedKeys is the exact key set spec.md §6 defines for the
// persisted key=value format.
var recognizedKeys = map[string]bool{
	"event_queue_size":         true,
	"command_queue_size":       true,
	"pri_queue_size":           true,
	"tlb_cache_size":           true,
	"cache_max_age":            true,
	"enable_caching":           true,
	"max_iova_size":            true,
	"max_pa_size":              true,
	"max_stream_count":         true,
	"max_pasid_count":          true,
	"max_memory_usage":         true,
	"max_thread_count":         true,
	"timeout_ms":               true,
	"enable_resource_tracking": true,
}

// parseBool accepts the case-insensitive alias set spec.md §6 requires:
// true|false|1|0|yes|no|on|off. This is why BurntSushi/toml isn't used
// here — see DESIGN.md.
func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// ParseConfig parses the key=value configuration format from spec.md §6:
// lines starting with # are comments, blank lines are ignored, keys not
// in recognizedKeys or malformed lines produce ParseError, and semantic
// range violations (checked by Validate) produce InvalidConfiguration.
// Unset keys retain Default()'s values.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return Config{}, types.NewError(types.ParseError)
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if !recognizedKeys[key] {
			return Config{}, types.NewError(types.ParseError)
		}
		if err := applyKey(&cfg, key, value); err != nil {
			return Config{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, types.NewError(types.ParseError)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyKey(cfg *Config, key, value string) error {
	switch key {
	case "event_queue_size":
		return applyInt(&cfg.EventQueueSize, value)
	case "command_queue_size":
		return applyInt(&cfg.CommandQueueSize, value)
	case "pri_queue_size":
		return applyInt(&cfg.PRIQueueSize, value)
	case "tlb_cache_size":
		return applyInt(&cfg.TLBCacheSize, value)
	case "cache_max_age":
		return applyInt(&cfg.CacheMaxAgeMS, value)
	case "enable_caching":
		return applyBool(&cfg.EnableCaching, value)
	case "max_iova_size":
		return applyUint(&cfg.MaxIOVASize, value)
	case "max_pa_size":
		return applyUint(&cfg.MaxPASize, value)
	case "max_stream_count":
		return applyUint32(&cfg.MaxStreamCount, value)
	case "max_pasid_count":
		return applyUint32(&cfg.MaxPASIDCount, value)
	case "max_memory_usage":
		return applyUint64(&cfg.MaxMemoryUsage, value)
	case "max_thread_count":
		return applyInt(&cfg.MaxThreadCount, value)
	case "timeout_ms":
		return applyInt(&cfg.TimeoutMS, value)
	case "enable_resource_tracking":
		return applyBool(&cfg.EnableResourceTracking, value)
	}
	return types.NewError(types.ParseError)
}

func applyInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return types.NewError(types.ParseError)
	}
	*dst = n
	return nil
}

func applyUint(dst *uint, value string) error {
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return types.NewError(types.ParseError)
	}
	*dst = uint(n)
	return nil
}

func applyUint32(dst *uint32, value string) error {
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return types.NewError(types.ParseError)
	}
	*dst = uint32(n)
	return nil
}

func applyUint64(dst *uint64, value string) error {
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return types.NewError(types.ParseError)
	}
	*dst = n
	return nil
}

func applyBool(dst *bool, value string) error {
	b, ok := parseBool(value)
	if !ok {
		return types.NewError(types.ParseError)
	}
	*dst = b
	return nil
}
