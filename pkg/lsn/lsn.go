package lsn

import (
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pglogrepl"
)

// LSN is a PostgreSQL log sequence number, reused verbatim from pglogrepl:
// an opaque, totally ordered position in the write-ahead log.
type LSN = pglogrepl.LSN

// Zero is the sentinel "before any data" position, textually "0/0".
const Zero LSN = 0

// MalformedLSNError reports an input that does not match the
// "HHHH/HHHH" hex-pair format PostgreSQL uses for LSNs.
type MalformedLSNError struct {
	Input string
	Cause error
}

func (e *MalformedLSNError) Error() string {
	return fmt.Sprintf("malformed lsn %q: %v", e.Input, e.Cause)
}

func (e *MalformedLSNError) Unwrap() error { return e.Cause }

var hexPair = regexp.MustCompile(`^[0-9a-fA-F]+/[0-9a-fA-F]+$`)

// Parse parses a "HHHH/HHHH" string into an LSN, failing with
// *MalformedLSNError on anything that isn't a well-formed hex pair.
func Parse(s string) (LSN, error) {
	if !hexPair.MatchString(s) {
		return 0, &MalformedLSNError{Input: s, Cause: fmt.Errorf("not a hex pair")}
	}
	parsed, err := pglogrepl.ParseLSN(s)
	if err != nil {
		return 0, &MalformedLSNError{Input: s, Cause: err}
	}
	return parsed, nil
}

// Format renders an LSN in the canonical "HHHH/HHHH" form.
func Format(l LSN) string {
	return l.String()
}

// Compare gives total order on LSNs: -1 if a < b, 0 if equal, 1 if a > b.
// It never allocates.
func Compare(a, b LSN) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Lag calculates the byte distance between two LSN positions.
func Lag(current, latest pglogrepl.LSN) uint64 {
	if latest <= current {
		return 0
	}
	return uint64(latest - current)
}

// FormatLag returns a human-friendly representation of replication lag.
func FormatLag(bytes uint64, latency time.Duration) string {
	var size string
	switch {
	case bytes >= 1<<30:
		size = fmt.Sprintf("%.2f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		size = fmt.Sprintf("%.2f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		size = fmt.Sprintf("%.2f KB", float64(bytes)/float64(1<<10))
	default:
		size = fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%s (latency: %s)", size, latency.Truncate(time.Millisecond))
}
