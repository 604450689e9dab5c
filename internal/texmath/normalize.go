package texmath

import (
	"regexp"
	"strings"
)

// Chat clients wrap pasted markup in backtick fences. The fences are
// stripped before hashing and rendering so `x` and x produce the same
// image. An opening delimiter of one, two, or three backticks must be
// closed by the exact same delimiter; only three-backtick fences may carry
// a language tag. Matching is anchored at the start, case-insensitive and
// spans newlines; the body is taken non-greedily with trailing whitespace
// trimmed before the closing delimiter.
var fences = []*regexp.Regexp{
	regexp.MustCompile("(?is)^```(?:[a-z]+\n)?(?:[ \t]*\n)*(.*?)\\s*```"),
	regexp.MustCompile("(?is)^``(?:[ \t]*\n)*(.*?)\\s*``"),
	regexp.MustCompile("(?is)^`(?:[ \t]*\n)*(.*?)\\s*`"),
}

// Normalize derives the canonical form of raw user text: the literal \\
// line-break marker becomes a newline (the backend does not treat \\ as a
// line break), and a surrounding code fence is stripped. Pure and
// deterministic; the result is what gets hashed for the cache key.
func Normalize(raw string) string {
	text := strings.ReplaceAll(raw, `\\`, "\n")

	for _, re := range fences {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return text
}
