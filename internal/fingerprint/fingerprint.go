// Package fingerprint computes the stable dedupe key used to recognize the
// same logical message across re-downloads, independent of Message-Id.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/lu-zhengda/icloud-to-gmail/internal/mailheader"
)

// unitSeparator joins canonical fields, matching ASCII 0x1F (US) so that no
// legitimate header value can collide with the delimiter.
const unitSeparator = "\x1f"

// Input is the tuple the fingerprint is computed over. BodyPrefix must
// already be truncated to the configured body-prefix size by the caller.
type Input struct {
	MessageIDNorm string
	Date          time.Time
	From          string
	Subject       string
	SizeBytes     int64
	BodyPrefix    []byte
}

// FromHeaders builds an Input from parsed headers, raw message size, and a
// body prefix slice. bodyPrefixBytes of 0 disables the body tail entirely.
func FromHeaders(h *mailheader.Headers, size int64, raw []byte, bodyPrefixBytes int) Input {
	in := Input{
		MessageIDNorm: h.MessageIDNorm,
		Date:          h.Date,
		From:          strings.ToLower(strings.TrimSpace(h.From)),
		Subject:       strings.Join(strings.Fields(h.Subject), " "),
		SizeBytes:     size,
	}
	if bodyPrefixBytes > 0 {
		in.BodyPrefix = BodyPrefix(raw, bodyPrefixBytes)
	}
	return in
}

// BodyPrefix returns up to n bytes of the message body, i.e. the bytes
// after the first blank-line header/body separator. If no separator is
// found the whole message is treated as body (matching the original
// implementation's behavior for malformed messages).
func BodyPrefix(raw []byte, n int) []byte {
	sep := []byte("\r\n\r\n")
	idx := indexOf(raw, sep)
	if idx < 0 {
		sep = []byte("\n\n")
		idx = indexOf(raw, sep)
	}
	var body []byte
	if idx < 0 {
		body = raw
	} else {
		body = raw[idx+len(sep):]
	}
	if n >= 0 && len(body) > n {
		body = body[:n]
	}
	return body
}

func indexOf(haystack, needle []byte) int {
	return strings.Index(string(haystack), string(needle))
}

// Compute returns the lowercase hex SHA-256 fingerprint for in. Identical
// inputs always produce identical output, on any host, in any process.
func Compute(in Input) string {
	epoch := int64(0)
	if !in.Date.IsZero() {
		epoch = in.Date.UTC().Unix()
	}

	fields := []string{
		in.MessageIDNorm,
		strconv.FormatInt(epoch, 10),
		in.From,
		in.Subject,
		strconv.FormatInt(in.SizeBytes, 10),
	}
	canonical := strings.Join(fields, unitSeparator)

	h := sha256.New()
	h.Write([]byte(canonical))
	if len(in.BodyPrefix) > 0 {
		h.Write([]byte(unitSeparator))
		h.Write(in.BodyPrefix)
	}
	return hex.EncodeToString(h.Sum(nil))
}
