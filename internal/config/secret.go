package config

// Secret is a string type that redacts its value in logs and serialized
// output. The raw value is only reachable through Value().
type Secret string

const redacted = "[REDACTED]"

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString implements fmt.GoStringer so %#v does not leak the value.
func (s Secret) GoString() string {
	return "config.Secret(" + s.String() + ")"
}

// Value returns the underlying secret value for actual use.
func (s Secret) Value() string {
	return string(s)
}

// MarshalJSON redacts the secret in JSON output.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`""`), nil
	}
	return []byte(`"` + redacted + `"`), nil
}

// MarshalYAML redacts the secret in YAML output.
func (s Secret) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}
