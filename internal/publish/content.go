package publish

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/mr-tron/base58"
)

// Multihash prefix for sha2-256 with a 32-byte digest.
const (
	multihashSHA256 = 0x12
	multihashLength = 0x20
)

// Canonicalize encodes v as RFC 8785 canonical JSON, so equal metadata
// always produces equal bytes and therefore equal content keys.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// ContentKey returns the base58 sha2-256 multihash of data, the same shape
// as an IPFS CIDv0.
func ContentKey(data []byte) string {
	sum := sha256.Sum256(data)
	buf := make([]byte, 0, 2+len(sum))
	buf = append(buf, multihashSHA256, multihashLength)
	buf = append(buf, sum[:]...)
	return base58.Encode(buf)
}
