/* USB virtualization bridge - host side
 *
 * Glob-style pattern matching, used by the policy filter to match
 * vendor:product identity strings against allow/deny entries such
 * as "0951:*".
 */

package globmatch

// Match matches str against a glob-style pattern and reports whether
// it matched. Pattern syntax:
//
//	?   - matches exactly one character
//	*   - matches any sequence of characters
//	\C  - matches character C literally
//	C   - matches character C (C is not *, ? or \)
func Match(str, pattern string) bool {
	return matchWeight(str, pattern) >= 0
}

// MatchWeight reports how specifically pattern matches str: the
// count of literal (non-wildcard) characters matched, or -1 if str
// does not match pattern at all. Callers holding several candidate
// patterns for the same str can use the highest weight to pick the
// most specific one.
func MatchWeight(str, pattern string) int {
	return matchWeight(str, pattern)
}

// matchWeight walks str and pattern with two cursors, never
// recursing. A '*' is first assumed to match nothing; its position
// (and the literal count at that point) is remembered, and on any
// later mismatch the match resumes just past the most recent '*'
// with its expansion widened by one character. One backtrack point
// suffices: widening an earlier '*' can never succeed where widening
// the latest one fails, since everything between the two is matched
// by the latest '*' anyway.
func matchWeight(str, pattern string) int {
	s, p := 0, 0
	count := 0

	// Most recent '*': the pattern index just past it, the str index
	// its current expansion ends at, and the count taken there.
	starP := -1
	starS, starCount := 0, 0

	for s < len(str) {
		if p < len(pattern) {
			switch c := pattern[p]; c {
			case '*':
				starP, starS, starCount = p+1, s, count
				p++
				continue
			case '?':
				p++
				s++
				continue
			case '\\':
				// A trailing backslash escapes nothing and matches
				// nothing; fall through to the mismatch path.
				if p+1 < len(pattern) && pattern[p+1] == str[s] {
					p += 2
					s++
					count++
					continue
				}
			default:
				if c == str[s] {
					p++
					s++
					count++
					continue
				}
			}
		}

		// Mismatch (or pattern exhausted early): widen the latest
		// '*' by one character and retry from there. Literals
		// matched since the '*' are re-covered by it, so the count
		// rolls back too.
		if starP < 0 {
			return -1
		}
		starS++
		s, p, count = starS, starP, starCount
	}

	// str consumed; the rest of the pattern must be all '*'.
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	if p == len(pattern) {
		return count
	}
	return -1
}
