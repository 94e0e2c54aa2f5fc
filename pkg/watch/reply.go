package watch

import (
	"regexp"
	"strconv"
	"strings"
)

// ReplyKind is the closed set of follow-up reply shapes the watcher and
// coordinator understand.
type ReplyKind int

const (
	ReplyUnrecognized ReplyKind = iota
	// ReplyNumeric is a bare integer ("12").
	ReplyNumeric
	// ReplyTaggedNumeric carries an explicit parameter ("n=12", "c=12",
	// "context=12").
	ReplyTaggedNumeric
	ReplyCancel
	ReplyConfirm
)

// Reply is one parsed follow-up message. N is set for the numeric kinds.
type Reply struct {
	Kind ReplyKind
	N    int
}

var taggedNumericRe = regexp.MustCompile(`^(?:n|c|context)=(\d+)$`)

// ParseReply classifies a follow-up message. Parsing is case-insensitive
// and whitespace-trimmed; anything outside the closed set is
// ReplyUnrecognized.
func ParseReply(text string) Reply {
	t := strings.ToLower(strings.TrimSpace(text))
	switch t {
	case "cancel", "stop", "abort":
		return Reply{Kind: ReplyCancel}
	case "confirm", "yes", "ok", "create":
		return Reply{Kind: ReplyConfirm}
	}
	if m := taggedNumericRe.FindStringSubmatch(t); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return Reply{Kind: ReplyTaggedNumeric, N: n}
		}
	}
	if isDigits(t) {
		n, err := strconv.Atoi(t)
		if err == nil {
			return Reply{Kind: ReplyNumeric, N: n}
		}
	}
	return Reply{Kind: ReplyUnrecognized}
}

// ExtractContextCount pulls an inline context-count parameter from a
// tagged message ("#claude 10", "#claude n=10", "#claude context=10",
// "#claude c=10"). The bool reports whether the message carried one.
func ExtractContextCount(tag, content string) (int, bool) {
	quoted := regexp.QuoteMeta(tag)
	for _, p := range []string{
		quoted + `\s+(\d+)`,
		quoted + `\s+n=(\d+)`,
		quoted + `\s+context=(\d+)`,
		quoted + `\s+c=(\d+)`,
	} {
		re := regexp.MustCompile(`(?i)` + p)
		if m := re.FindStringSubmatch(content); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// Clamp bounds n to [min, max].
func Clamp(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
