package enrich

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"sentinel-ir/internal/schema"
)

// Fingerprint computes the deduplication fingerprint for an event: a hash of
// its type, normalized scope and IP, and its timestamp truncated to bucket.
// Two occurrences of the same activity inside the same bucket share a
// fingerprint.
func Fingerprint(event *schema.Event, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = time.Minute
	}

	var b strings.Builder
	b.WriteString(event.Type)
	b.WriteByte('|')
	b.WriteString(strings.ToLower(strings.TrimSpace(event.Scope)))
	b.WriteByte('|')
	b.WriteString(strings.TrimSpace(event.IPAddress))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(event.Timestamp.Truncate(bucket).Unix(), 10))

	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}
