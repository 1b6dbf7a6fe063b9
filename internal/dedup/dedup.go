// Package dedup scores lexical similarity between texts with the Dice
// coefficient over character bigrams.
package dedup

// DefaultThreshold is the similarity at or above which two records are
// treated as near-duplicates.
const DefaultThreshold = 0.9

// Texter is anything with a narrative text to compare.
type Texter interface {
	Text() string
}

// Bigrams returns the set of contiguous two-rune substrings of s. Texts
// shorter than two runes have an empty set.
func Bigrams(s string) map[string]struct{} {
	runes := []rune(s)
	if len(runes) < 2 {
		return map[string]struct{}{}
	}
	set := make(map[string]struct{}, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}

// Similarity returns 2|A∩B| / (|A|+|B|) over the bigram sets of a and b.
// Identical texts score 1.0, including two empty texts and texts too
// short to have bigrams. Otherwise an empty bigram set on either side
// scores 0.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return dice(Bigrams(a), Bigrams(b))
}

// IsDuplicate reports whether a and b score at least threshold.
func IsDuplicate(a, b Texter, threshold float64) bool {
	return Similarity(a.Text(), b.Text()) >= threshold
}

func dice(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for g := range small {
		if _, ok := large[g]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

// Detector compares one subject against many candidates, computing the
// subject's bigram set once.
type Detector struct {
	threshold float64
	text      string
	bigrams   map[string]struct{}
}

// NewDetector prepares subject for repeated comparison. A threshold
// outside (0, 1] falls back to DefaultThreshold.
func NewDetector(subject Texter, threshold float64) *Detector {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	text := subject.Text()
	return &Detector{threshold: threshold, text: text, bigrams: Bigrams(text)}
}

// Score returns the similarity between the subject and candidate.
func (d *Detector) Score(candidate Texter) float64 {
	text := candidate.Text()
	if text == d.text {
		return 1.0
	}
	return dice(d.bigrams, Bigrams(text))
}

// Match reports whether candidate is a near-duplicate of the subject.
func (d *Detector) Match(candidate Texter) bool {
	return d.Score(candidate) >= d.threshold
}

// FirstMatch returns the index of the first near-duplicate in candidates
// and its score, or -1.
func FirstMatch[T Texter](d *Detector, candidates []T) (int, float64) {
	for i, c := range candidates {
		if score := d.Score(c); score >= d.threshold {
			return i, score
		}
	}
	return -1, 0
}
