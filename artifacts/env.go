package artifacts

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DeviceEnv is what a consumer of the artifact directory sees.
type DeviceEnv struct {
	SupabaseURL     string
	APIBase         string
	AuthLoginURL    string
	AuthRegisterURL string
	ClaimURL        string
	HeartbeatURL    string

	// DeviceJWT is empty until the device is claimed.
	DeviceJWT string
	// DeviceCode is read from the device_code file when present.
	DeviceCode string

	// Pending is set while pending_activation.json exists.
	Pending *PendingActivation
}

// Claimed reports whether the environment carries a device credential.
func (e DeviceEnv) Claimed() bool {
	return e.DeviceJWT != ""
}

// LoadDeviceEnv reads the artifact directory the way the installed system does.
func LoadDeviceEnv(dir string) (DeviceEnv, error) {
	data, err := os.ReadFile(filepath.Join(dir, EnvFileName))
	if err != nil {
		return DeviceEnv{}, fmt.Errorf("could not read device environment: %w", err)
	}

	values, err := ParseEnv(data)
	if err != nil {
		return DeviceEnv{}, err
	}

	env := DeviceEnv{
		SupabaseURL:     values[EnvSupabaseURL],
		APIBase:         values[EnvAPIBase],
		AuthLoginURL:    values[EnvAuthLoginURL],
		AuthRegisterURL: values[EnvAuthRegisterURL],
		ClaimURL:        values[EnvClaimURL],
		HeartbeatURL:    values[EnvHeartbeatURL],
		DeviceJWT:       values[EnvDeviceJWT],
	}

	code, err := os.ReadFile(filepath.Join(dir, DeviceCodeName))
	if err == nil {
		env.DeviceCode = strings.TrimSpace(string(code))
	} else if !errors.Is(err, os.ErrNotExist) {
		return DeviceEnv{}, fmt.Errorf("could not read device code: %w", err)
	}

	pending, err := os.ReadFile(filepath.Join(dir, PendingFileName))
	if err == nil {
		var activation PendingActivation
		if err := json.Unmarshal(pending, &activation); err != nil {
			return DeviceEnv{}, fmt.Errorf("could not parse pending activation: %w", err)
		}
		env.Pending = &activation
	} else if !errors.Is(err, os.ErrNotExist) {
		return DeviceEnv{}, fmt.Errorf("could not read pending activation: %w", err)
	}

	return env, nil
}

// ParseEnv parses KEY=VALUE lines. Blank lines and comments are skipped.
// Single-quoted values are literal ('\'' is an embedded quote). In bare and
// double-quoted values, $KEY or ${KEY} references to earlier keys are expanded.
func ParseEnv(data []byte) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid environment line %d", lineNo)
		}
		value = strings.TrimSpace(value)
		if literal, ok := unquote(value, '\''); ok {
			values[strings.TrimSpace(key)] = strings.ReplaceAll(literal, `'\''`, "'")
			continue
		}
		if quoted, ok := unquote(value, '"'); ok {
			value = quoted
		}
		values[strings.TrimSpace(key)] = os.Expand(value, func(name string) string {
			return values[name]
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("could not scan environment: %w", err)
	}
	return values, nil
}

// unquote strips one matching pair of quote characters.
func unquote(value string, quote byte) (string, bool) {
	if len(value) >= 2 && value[0] == quote && value[len(value)-1] == quote {
		return value[1 : len(value)-1], true
	}
	return value, false
}
