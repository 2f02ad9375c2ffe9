package generic

import (
	"fmt"
	"regexp"
	"strconv"
)

// Reference number prefixes. Sequences are allocated per (prefix, year) by the
// ledger store and are never reused.
const (
	PrefixPassSlip     = "PS"
	PrefixLeaveRequest = "LR"
)

var refPattern = regexp.MustCompile(`^([A-Z]{2})-(\d{4})-(\d{4,})$`)

// FormatReference renders PREFIX-YYYY-NNNN. Sequences past 9999 widen.
func FormatReference(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%04d-%04d", prefix, year, seq)
}

// ParseReference splits a reference number into its parts.
func ParseReference(ref string) (prefix string, year, seq int, err error) {
	m := refPattern.FindStringSubmatch(ref)
	if m == nil {
		return "", 0, 0, Invalid("reference", fmt.Sprintf("malformed reference %q", ref))
	}
	year, _ = strconv.Atoi(m[2])
	seq, _ = strconv.Atoi(m[3])
	return m[1], year, seq, nil
}
