// Package config loads struct-tagged configuration from YAML files and the
// environment. Supported tags: env, yaml, default, required.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Validator interface allows config structs to implement custom validation logic.
// If a config struct implements this interface, validation will be automatically
// called after loading configuration from files and environment variables.
type Validator interface {
	Validate() error
}

// setFromString assigns raw to field according to the field's kind.
func setFromString(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("failed to convert %s to duration: %w", raw, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int64, reflect.Int32:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("failed to convert %s to int: %w", raw, err)
		}
		field.SetInt(v)
	case reflect.Float64, reflect.Float32:
		v, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("failed to convert %s to float: %w", raw, err)
		}
		field.SetFloat(v)
	case reflect.Bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("failed to convert %s to bool: %w", raw, err)
		}
		field.SetBool(v)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(raw, ",")
		slice := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				slice = reflect.Append(slice, reflect.ValueOf(p).Convert(field.Type().Elem()))
			}
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}

// applyEnv overlays environment variables and records which fields were set.
func applyEnv(val reflect.Value, typ reflect.Type, set map[string]bool) error {
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := applyEnv(field, fieldType.Type, set); err != nil {
				return err
			}
			continue
		}

		tag := fieldType.Tag.Get("env")
		if tag == "" {
			continue
		}
		raw := os.Getenv(tag)
		if raw == "" {
			continue
		}
		// struct type + field name avoids collisions between nested structs
		set[typ.Name()+"."+fieldType.Name] = true
		if err := setFromString(field, raw); err != nil {
			return fmt.Errorf("env %s: %w", tag, err)
		}
	}
	return nil
}

// applyDefaults fills zero-valued fields from their default tag and reports
// missing required fields.
func applyDefaults(val reflect.Value, typ reflect.Type, set map[string]bool) error {
	var result error
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := applyDefaults(field, fieldType.Type, set); err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}

		def := fieldType.Tag.Get("default")
		required := strings.EqualFold(fieldType.Tag.Get("required"), "true") || fieldType.Tag.Get("required") == "1"
		if required && def == "" && field.IsZero() {
			result = multierror.Append(result, fmt.Errorf("required field env:%s / yaml:%s is missing",
				fieldType.Tag.Get("env"), fieldType.Tag.Get("yaml")))
			continue
		}

		if def == "" || !field.IsZero() || set[typ.Name()+"."+fieldType.Name] {
			continue
		}
		if err := setFromString(field, def); err != nil {
			result = multierror.Append(result, fmt.Errorf("default for %s: %w", fieldType.Name, err))
		}
	}
	return result
}

// GetConfigFromEnvVars loads configuration from environment variables only.
//
//	var cfg MyConfig
//	err := GetConfigFromEnvVars(&cfg)
func GetConfigFromEnvVars[T any](dest *T) error {
	val := reflect.ValueOf(dest).Elem()
	set := make(map[string]bool)

	if err := applyEnv(val, val.Type(), set); err != nil {
		return err
	}
	if err := applyDefaults(val, val.Type(), set); err != nil {
		var zero T
		*dest = zero
		return err
	}

	// *T covers both value and pointer receivers
	if v, ok := any(dest).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

// GetConfig loads configuration from a YAML file first, then overlays
// environment variables. An empty path means environment only. With
// allowFileErrors a missing or broken file falls back to the environment.
func GetConfig[T any](dest *T, path string, allowFileErrors bool) error {
	if path == "" {
		return GetConfigFromEnvVars(dest)
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied config path
	if err != nil {
		if allowFileErrors {
			return GetConfigFromEnvVars(dest)
		}
		return fmt.Errorf("failed to read file: %w", err)
	}
	if err := yaml.Unmarshal(data, dest); err != nil {
		if allowFileErrors {
			return GetConfigFromEnvVars(dest)
		}
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	return GetConfigFromEnvVars(dest)
}
