package keystore

import (
	"errors"
	"fmt"
)

// Sentinel errors for key loading. Use errors.Is() to check for them; they
// are always wrapped in a *LoadError carrying the source name.
var (
	// ErrNotFound is returned when the key source cannot be opened.
	ErrNotFound = errors.New("keystore: key source not found")

	// ErrTooLarge is returned when the source exceeds the key buffer size.
	ErrTooLarge = errors.New("keystore: key source larger than key buffer")

	// ErrTruncated is returned when fewer bytes were read than the source reports.
	ErrTruncated = errors.New("keystore: key source could not be fully read")

	// ErrEmpty is returned when the source holds no bytes.
	ErrEmpty = errors.New("keystore: key source is empty")
)

// LoadError describes a failed Load.
type LoadError struct {
	Source string
	Err    error
}

// Error implements error.
func (e *LoadError) Error() string {
	return fmt.Sprintf("loading key %q: %v", e.Source, e.Err)
}

// Unwrap returns the underlying cause.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// Remediation returns operator guidance for a key loading failure, or an
// empty string if err is not a key loading failure.
func Remediation(err error) string {
	var le *LoadError
	if !errors.As(err, &le) {
		return ""
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return fmt.Sprintf("missing private key required for JWT signing: copy the device's "+
			"private key (PEM) to %q relative to the working directory, or set key.path "+
			"in the config file (IOTC_PRIVATE_KEY overrides it)", le.Source)
	case errors.Is(err, ErrTooLarge):
		return "the key file is larger than key.max_size; check that it holds a single private key"
	case errors.Is(err, ErrEmpty):
		return fmt.Sprintf("the key file %q is empty; copy the device's private key (PEM) into it", le.Source)
	case errors.Is(err, ErrTruncated):
		return "the key file changed or could not be read completely; check the file and retry"
	default:
		return ""
	}
}
