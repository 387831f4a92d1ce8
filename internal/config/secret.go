package config

// Secret is a string type that redacts itself when printed or serialized.
// Used for API keys and other sensitive credentials.
type Secret string

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer so %#v does not leak either.
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// MarshalYAML redacts the secret when serializing to YAML.
func (s Secret) MarshalYAML() (interface{}, error) {
	return "[REDACTED]", nil
}

// MarshalJSON redacts the secret when serializing to JSON.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// Value returns the underlying secret value for actual use.
func (s Secret) Value() string {
	return string(s)
}
