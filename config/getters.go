package config

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("field not found")

type Option func(options *options)

type options struct {
	withDefault  bool
	defaultValue interface{}
}

// WithDefault is returned when the field, or any map on the way to it, is missing.
func WithDefault(value interface{}) Option {
	return func(options *options) {
		options.withDefault = true
		options.defaultValue = value
	}
}

// GetInterface gets the given field irrespective of its type.
// Dots in the field name descend into submaps, so "s3.auth.username" is storage["s3"]["auth"]["username"].
func GetInterface(config map[string]interface{}, field string, opts ...Option) (interface{}, error) {
	var options options
	for _, opt := range opts {
		opt(&options)
	}

	path := strings.Split(field, ".")
	current := config
	for i, key := range path {
		element, ok := current[key]
		if !ok {
			if options.withDefault {
				return options.defaultValue, nil
			}
			return nil, errors.Wrapf(ErrNotFound, "%s", strings.Join(path[:i+1], "."))
		}
		if i == len(path)-1 {
			return element, nil
		}
		if current, ok = element.(map[string]interface{}); !ok {
			return nil, errors.Errorf("%s should be a map, got: %v", strings.Join(path[:i+1], "."), reflect.TypeOf(element))
		}
	}
	panic("unreachable")
}

func get[T any](config map[string]interface{}, field string, opts ...Option) (T, error) {
	var zero T
	out, err := GetInterface(config, field, opts...)
	if err != nil {
		return zero, err
	}
	typed, ok := out.(T)
	if !ok {
		return zero, errors.Errorf("expected %v for %s, got %v", reflect.TypeOf(zero), field, reflect.TypeOf(out))
	}
	return typed, nil
}

// GetString gets a string from the given field.
func GetString(config map[string]interface{}, field string, opts ...Option) (string, error) {
	return get[string](config, field, opts...)
}

// GetInt gets an int from the given field.
func GetInt(config map[string]interface{}, field string, opts ...Option) (int, error) {
	return get[int](config, field, opts...)
}

// GetBool gets a bool from the given field.
func GetBool(config map[string]interface{}, field string, opts ...Option) (bool, error) {
	return get[bool](config, field, opts...)
}
