package registry

import (
	"github.com/jaevor/go-nanoid"
)

const (
	// CIDLength is the fixed length of every generated campaign identifier.
	CIDLength = 8
	// CIDAlphabet keeps CIDs lowercase and URL-safe.
	CIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	// DefaultMaxAttempts bounds how many candidate codes are tried before giving up.
	DefaultMaxAttempts = 10
)

// CodeGenerator generates candidate codes.
type CodeGenerator func() string

// NewCIDGenerator returns a generator of CIDLength codes over CIDAlphabet.
func NewCIDGenerator() (CodeGenerator, error) {
	gen, err := nanoid.CustomASCII(CIDAlphabet, CIDLength)
	if err != nil {
		return nil, err
	}

	return CodeGenerator(gen), nil
}

// NewShortCodeGenerator returns a generator of URL-safe short codes.
func NewShortCodeGenerator(length int) (CodeGenerator, error) {
	gen, err := nanoid.Standard(length)
	if err != nil {
		return nil, err
	}

	return CodeGenerator(gen), nil
}
