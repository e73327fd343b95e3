package commands

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/lewisedginton/group_tagger/internal/identity"
)

// maxIndexDigits bounds what is read as a group index; longer numbers start
// the message or are phone numbers.
const maxIndexDigits = 3

// maxPhoneDigits is the longest E.164 number.
const maxPhoneDigits = 15

type token struct {
	text  string
	start int
}

// tokenize splits s on whitespace and remembers where each token starts.
func tokenize(s string) []token {
	var tokens []token
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, token{text: s[start:i], start: start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{text: s[start:], start: start})
	}
	return tokens
}

// groupIndex parses a 1-based group index.
func groupIndex(s string) (int, bool) {
	if s == "" || len(s) > maxIndexDigits {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// phoneShaped reports whether tok is a fragment of a typed phone number:
// digits with the usual separators, optionally led by '+' or '@'.
func phoneShaped(tok string) bool {
	digits := false
	for i, r := range tok {
		switch {
		case r >= '0' && r <= '9':
			digits = true
		case (r == '+' || r == '@') && i == 0:
		case r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits
}

// phoneArg reads one phone number from the front of args and returns its user
// id with the number of tokens it spans. A number typed with spaces
// ("+44 7700 900002") is joined back together; a fragment that starts with
// '+' or '@', or that is a whole number on its own, begins the next one.
func phoneArg(args []string) (string, int, bool) {
	if len(args) == 0 {
		return "", 0, false
	}
	if !phoneShaped(args[0]) {
		if !identity.LooksLikePhone(args[0]) {
			return "", 0, false
		}
		return identity.UserID(args[0]), 1, true
	}

	number := args[0]
	n := 1
	for ; n < len(args); n++ {
		next := args[n]
		if !phoneShaped(next) || strings.IndexAny(next, "+@") == 0 {
			break
		}
		if identity.LooksLikePhone(number) && identity.LooksLikePhone(next) {
			break
		}
		if len(identity.Normalize(number+next)) > maxPhoneDigits {
			break
		}
		number += next
	}
	if !identity.LooksLikePhone(number) {
		return "", 0, false
	}
	return identity.UserID(number), n, true
}

// tagArgs is a parsed tagall/tagallexcept argument list.
type tagArgs struct {
	indices    []int
	exclusions []string
	// next is the position of the first message token.
	next int
}

// parseTagArgs reads leading group indices, then, when withExclusions is set,
// phone numbers to exclude. The first token that is neither starts the
// message. Repeated indices are tagged once.
func parseTagArgs(args []string, withExclusions bool) tagArgs {
	var out tagArgs
	seen := make(map[int]bool)
	i := 0
	for ; i < len(args); i++ {
		n, ok := groupIndex(args[i])
		if !ok {
			break
		}
		if !seen[n] {
			seen[n] = true
			out.indices = append(out.indices, n)
		}
	}
	if withExclusions {
		for i < len(args) {
			id, n, ok := phoneArg(args[i:])
			if !ok {
				break
			}
			if !identity.Contains(out.exclusions, id) {
				out.exclusions = append(out.exclusions, id)
			}
			i += n
		}
	}
	out.next = i
	return out
}
