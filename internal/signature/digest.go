package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

// ContentDigest names the hash applied to the raw body in the signing string.
type ContentDigest string

const (
	// DigestCRC32 is the provider's documented form: IEEE CRC32 of the body in decimal.
	DigestCRC32  ContentDigest = "crc32"
	DigestSHA256 ContentDigest = "sha256"
)

// ParseContentDigest validates a digest name. Empty selects DigestCRC32.
func ParseContentDigest(raw string) (ContentDigest, error) {
	switch ContentDigest(strings.ToLower(strings.TrimSpace(raw))) {
	case "", DigestCRC32:
		return DigestCRC32, nil
	case DigestSHA256:
		return DigestSHA256, nil
	default:
		return "", fmt.Errorf("%w: unknown content digest %q", ErrInvalidConfig, raw)
	}
}

// Sum hashes the exact body bytes.
func (digest ContentDigest) Sum(body []byte) string {
	if digest == DigestSHA256 {
		sum := sha256.Sum256(body)
		return hex.EncodeToString(sum[:])
	}
	return strconv.FormatUint(uint64(crc32.ChecksumIEEE(body)), 10)
}
