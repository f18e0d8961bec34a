package workload

import (
	"fmt"
	"sort"
	"strings"

	"github.com/magiconair/properties"
)

// Args carries the key/value arguments handed to a profile. Values come from
// an optional Java properties file overlaid with repeated --args k=v flags.
type Args struct {
	props *properties.Properties
}

// NewArgs returns an empty argument set.
func NewArgs() Args {
	return Args{props: properties.NewProperties()}
}

// ParseArgs builds an argument set from k=v pairs. A later pair overrides an
// earlier one.
func ParseArgs(pairs []string) (Args, error) {
	args := NewArgs()
	if err := args.Merge(pairs); err != nil {
		return Args{}, err
	}
	return args, nil
}

// LoadArgsFile reads a properties file and overlays pairs on top of it.
func LoadArgsFile(path string, pairs []string) (Args, error) {
	props, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return Args{}, fmt.Errorf("workload: load args file: %w", err)
	}
	args := Args{props: props}
	if err := args.Merge(pairs); err != nil {
		return Args{}, err
	}
	return args, nil
}

// Merge applies k=v pairs.
func (a *Args) Merge(pairs []string) error {
	if a.props == nil {
		a.props = properties.NewProperties()
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return fmt.Errorf("workload: argument %q must be key=value", pair)
		}
		if _, _, err := a.props.Set(key, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("workload: argument %q: %w", pair, err)
		}
	}
	return nil
}

// Keys lists the argument names in sorted order.
func (a Args) Keys() []string {
	if a.props == nil {
		return nil
	}
	keys := a.props.Keys()
	sort.Strings(keys)
	return keys
}

// String returns the value for key or def.
func (a Args) String(key, def string) string {
	if a.props == nil {
		return def
	}
	return a.props.GetString(key, def)
}

// Int returns the integer value for key or def. Malformed values are
// reported as an error rather than silently defaulted.
func (a Args) Int(key string, def int) (int, error) {
	if a.props == nil {
		return def, nil
	}
	raw, ok := a.props.Get(key)
	if !ok {
		return def, nil
	}
	v, err := a.props.GetParsedInt64(key)
	if err != nil {
		return 0, fmt.Errorf("workload: argument %s=%q: %w", key, raw, err)
	}
	return int(v), nil
}

// Float returns the float value for key or def.
func (a Args) Float(key string, def float64) (float64, error) {
	if a.props == nil {
		return def, nil
	}
	raw, ok := a.props.Get(key)
	if !ok {
		return def, nil
	}
	v, err := a.props.GetParsedFloat64(key)
	if err != nil {
		return 0, fmt.Errorf("workload: argument %s=%q: %w", key, raw, err)
	}
	return v, nil
}

// Map returns a copy of all arguments.
func (a Args) Map() map[string]string {
	if a.props == nil {
		return map[string]string{}
	}
	return a.props.Map()
}

// Unknown returns the argument names not listed in specs.
func (a Args) Unknown(specs []ArgSpec) []string {
	known := make(map[string]struct{}, len(specs))
	for _, arg := range specs {
		known[arg.Name] = struct{}{}
	}
	var unknown []string
	for _, key := range a.Keys() {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	return unknown
}
