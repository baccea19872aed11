package contract

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Hasher computes the hex content hash of raw bytes.
type Hasher func(data []byte) string

// Supported hash algorithms.
const (
	HashMD5     = "md5"
	HashSHA256  = "sha256"
	HashBLAKE2b = "blake2b"
)

// NewHasher returns the hasher for algo. An empty name selects sha256.
func NewHasher(algo string) (Hasher, error) {
	switch strings.ToLower(algo) {
	case HashMD5:
		return func(data []byte) string {
			sum := md5.Sum(data)
			return hex.EncodeToString(sum[:])
		}, nil
	case "", HashSHA256:
		return func(data []byte) string {
			sum := sha256.Sum256(data)
			return hex.EncodeToString(sum[:])
		}, nil
	case HashBLAKE2b:
		return func(data []byte) string {
			sum := blake2b.Sum256(data)
			return hex.EncodeToString(sum[:])
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown hash algorithm %q", ErrInvalidArgument, algo)
}
