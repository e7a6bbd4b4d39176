package types

// SecretString holds a sensitive value (API keys, connection strings) and
// redacts itself under fmt and JSON so secrets cannot leak through log lines
// or serialized config dumps. Call Unmask only at the point of use.
type SecretString string

const redacted = "***REDACTED***"

// String implements fmt.Stringer with a redacted placeholder.
func (s SecretString) String() string { return redacted }

// MarshalJSON always emits the redacted placeholder.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Unmask returns the raw secret. Limit call sites to HTTP clients and
// database drivers that genuinely need the plaintext.
func (s SecretString) Unmask() string { return string(s) }
