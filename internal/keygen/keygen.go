// Package keygen produces human-presentable license key strings.
//
// Neither generator guarantees global uniqueness; callers must check the key
// against the license store and regenerate on collision.
package keygen

import (
	"crypto/rand"
	"strings"

	"github.com/google/uuid"
)

const (
	alphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	segmentCount = 4
	segmentLen   = 4
)

// Generate returns a random key in XXXX-XXXX-XXXX-XXXX form drawn from
// uppercase letters and digits.
func Generate() string {
	buf := make([]byte, segmentCount*segmentLen)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform entropy source is broken
		panic("keygen: entropy source unavailable: " + err.Error())
	}

	var b strings.Builder
	b.Grow(segmentCount*segmentLen + segmentCount - 1)
	for i, by := range buf {
		if i > 0 && i%segmentLen == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(alphabet[int(by)%len(alphabet)])
	}
	return b.String()
}

// GenerateUUID returns an uppercase key derived from a random UUID, regrouped
// into eight hyphen-separated segments of four hex characters.
func GenerateUUID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")

	segments := make([]string, 0, len(hex)/4)
	for i := 0; i < len(hex); i += 4 {
		segments = append(segments, hex[i:i+4])
	}
	return strings.ToUpper(strings.Join(segments, "-"))
}
