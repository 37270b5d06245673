package matchmaking

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/jason-s-yu/lobbybot/internal/failure"
)

// ChecksumFunc computes the integrity checksum the matchmaking service
// expects alongside a ticket. The algorithm belongs to the service, so it
// is swappable.
type ChecksumFunc func(payload, signature string) (string, error)

const checksumSalt = "Don'tMessWithMMS"

// DefaultChecksum is the service's published checksum: SHA-1 over the
// UTF-16LE encoding of payload[10:20] + salt + signature[2:10], keeping
// digest bytes 2..10 as upper-case hex.
func DefaultChecksum(payload, signature string) (string, error) {
	if len(payload) < 20 || len(signature) < 10 {
		return "", failure.New(failure.Parse, "ticket payload or signature too short for checksum")
	}
	plain := payload[10:20] + checksumSalt + signature[2:10]

	data, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(plain))
	if err != nil {
		return "", failure.Wrap(err, failure.Parse, "encode checksum input")
	}

	sum := sha1.Sum(data)
	return strings.ToUpper(hex.EncodeToString(sum[2:10])), nil
}
