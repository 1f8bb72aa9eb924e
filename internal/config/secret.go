package config

const redactedValue = "[REDACTED]"

// Secret holds a credential such as a webhook URL. Every printing or
// marshalling path redacts it; Reveal is the only way to read the value.
type Secret string

func (s Secret) redacted() string {
	if s == "" {
		return ""
	}
	return redactedValue
}

func (s Secret) Reveal() string { return string(s) }

func (s Secret) String() string   { return s.redacted() }
func (s Secret) GoString() string { return `"` + s.redacted() + `"` }

func (s Secret) MarshalYAML() (interface{}, error) {
	return s.redacted(), nil
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.redacted() + `"`), nil
}
