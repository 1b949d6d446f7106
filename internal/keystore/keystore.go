package keystore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// DefaultMaxSize is the key buffer size used when the caller passes no bound.
const DefaultMaxSize = 256

// DefaultSource is the key file name used when none is configured.
const DefaultSource = "ec_private.pem"

// Algorithm is the signature algorithm a key is used with.
type Algorithm string

// Supported algorithms.
const (
	ES256 Algorithm = "ES256"
	RS256 Algorithm = "RS256"
)

// Encoding is the serialisation of the key bytes.
type Encoding string

// PEM is the only supported encoding.
const PEM Encoding = "PEM"

// PrivateKey is an immutable loaded key.
type PrivateKey struct {
	data      []byte
	algorithm Algorithm
	encoding  Encoding
}

// NewPrivateKey wraps raw key bytes. The bytes are copied.
func NewPrivateKey(data []byte, alg Algorithm, enc Encoding) PrivateKey {
	return PrivateKey{
		data:      append([]byte(nil), data...),
		algorithm: alg,
		encoding:  enc,
	}
}

// Bytes returns a copy of the key material.
func (k PrivateKey) Bytes() []byte {
	return append([]byte(nil), k.data...)
}

// Len returns the key length in bytes.
func (k PrivateKey) Len() int { return len(k.data) }

// Algorithm returns the key's algorithm tag.
func (k PrivateKey) Algorithm() Algorithm { return k.algorithm }

// Encoding returns the key's encoding tag.
func (k PrivateKey) Encoding() Encoding { return k.encoding }

// IsZero reports whether k holds no key material.
func (k PrivateKey) IsZero() bool { return len(k.data) == 0 }

// Opener opens a key source by name.
type Opener func(name string) (fs.File, error)

// openFile opens a file from the local filesystem.
func openFile(name string) (fs.File, error) {
	return os.Open(name) //nolint:gosec // key path comes from operator configuration
}

// Load reads a key from the named file. See LoadFrom.
func Load(source string, maxSize int, alg Algorithm, enc Encoding) (PrivateKey, error) {
	return LoadFrom(openFile, source, maxSize, alg, enc)
}

// LoadFrom reads a key through open.
//
// It fails with ErrNotFound if the source cannot be opened, ErrTooLarge if
// the reported size exceeds maxSize (nothing is read in that case), and
// ErrTruncated if fewer bytes arrive than the source reported. An empty
// source fails with ErrEmpty. A maxSize of
// zero or less selects DefaultMaxSize.
func LoadFrom(open Opener, source string, maxSize int, alg Algorithm, enc Encoding) (PrivateKey, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	f, err := open(source)
	if err != nil {
		return PrivateKey{}, &LoadError{Source: source, Err: fmt.Errorf("%w: %w", ErrNotFound, err)}
	}
	defer f.Close() //nolint:errcheck // read-only file

	info, err := f.Stat()
	if err != nil {
		return PrivateKey{}, &LoadError{Source: source, Err: fmt.Errorf("%w: stat: %w", ErrNotFound, err)}
	}

	size := info.Size()
	if size == 0 {
		return PrivateKey{}, &LoadError{Source: source, Err: ErrEmpty}
	}
	if size > int64(maxSize) {
		return PrivateKey{}, &LoadError{
			Source: source,
			Err:    fmt.Errorf("%w: %d bytes exceeds buffer of %d bytes", ErrTooLarge, size, maxSize),
		}
	}

	buf := make([]byte, size)
	n, err := io.ReadFull(f, buf)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return PrivateKey{}, &LoadError{
				Source: source,
				Err:    fmt.Errorf("%w: read %d of %d bytes", ErrTruncated, n, size),
			}
		}
		return PrivateKey{}, &LoadError{Source: source, Err: fmt.Errorf("%w: %w", ErrTruncated, err)}
	}

	return PrivateKey{data: buf, algorithm: alg, encoding: enc}, nil
}
