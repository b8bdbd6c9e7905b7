package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that supports YAML parsing.
//
// Supports formats like: "1s", "5m", "250ms", "1h30m", or an integer number
// of nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err == nil {
			*d = Duration(parsed)
			return nil
		}
	}

	var ns int64
	if err := node.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration %q: use a string such as \"1s\" or an integer of nanoseconds", node.Value)
	}
	*d = Duration(ns)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the string representation.
func (d Duration) String() string {
	return time.Duration(d).String()
}
