package text

// NearDuplicateThreshold is the Dice similarity above which two normalized
// phrasings are treated as the same question.
const NearDuplicateThreshold = 0.86

// trigrams returns the 3-character shingles of the normalized form of s.
// Strings of three runes or fewer shingle to themselves.
func trigrams(s string) []string {
	t := Normalize(s)
	if t == "" {
		return nil
	}
	r := []rune(t)
	if len(r) <= 3 {
		return []string{string(r)}
	}
	grams := make([]string, 0, len(r)-2)
	for i := 0; i+3 <= len(r); i++ {
		grams = append(grams, string(r[i:i+3]))
	}
	return grams
}

// Similarity returns the Dice coefficient of the trigram multisets of a and
// b, in [0,1]. Two empty strings are defined as identical; an empty string
// against a non-empty one as completely different.
func Similarity(a, b string) float64 {
	aGrams := trigrams(a)
	bGrams := trigrams(b)
	if len(aGrams) == 0 && len(bGrams) == 0 {
		return 1
	}
	if len(aGrams) == 0 || len(bGrams) == 0 {
		return 0
	}
	counts := make(map[string]int, len(aGrams))
	for _, g := range aGrams {
		counts[g]++
	}
	matches := 0
	for _, g := range bGrams {
		if counts[g] > 0 {
			matches++
			counts[g]--
		}
	}
	return float64(2*matches) / float64(len(aGrams)+len(bGrams))
}

// IsNearDuplicate reports whether candidate matches any prior phrasing,
// either exactly after normalization or with similarity at or above
// threshold. An unnormalizable (empty) candidate counts as a duplicate so it
// is never served.
func IsNearDuplicate(candidate string, priors []string, threshold float64) bool {
	norm := Normalize(candidate)
	if norm == "" {
		return true
	}
	for _, prior := range priors {
		p := Normalize(prior)
		if p == "" {
			continue
		}
		if p == norm || Similarity(norm, p) >= threshold {
			return true
		}
	}
	return false
}
