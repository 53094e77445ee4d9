package util

// Deduplicate returns the non-empty elements of s in first-seen order, dropping repeats.
func Deduplicate(s []string) []string {
	seen := make(map[string]bool, len(s))
	result := make([]string, 0, len(s))
	for _, v := range s {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		result = append(result, v)
	}
	return result
}
