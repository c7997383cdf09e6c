package console

import "strings"

// applyCompletion replaces the word being typed at the end of line. A single
// candidate is completed with a trailing space; several are completed up to
// their common prefix.
func applyCompletion(line string, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return line, false
	}

	start := strings.LastIndexAny(line, " \t") + 1
	word := line[start:]
	prefix := line[:start]
	// The label keeps its slash
	if start == 0 && strings.HasPrefix(word, "/") {
		prefix, word = "/", word[1:]
	}

	if len(candidates) == 1 {
		return prefix + candidates[0] + " ", true
	}

	common := candidates[0]
	for _, c := range candidates[1:] {
		common = commonPrefix(common, c)
	}
	if len(common) <= len(word) {
		return line, false
	}
	return prefix + common, true
}

func commonPrefix(a, b string) string {
	n := min(len(a), len(b))
	i := 0
	for i < n && strings.EqualFold(a[i:i+1], b[i:i+1]) {
		i++
	}
	return a[:i]
}
