// Package similarity scores the closeness of two text documents using
// TF-IDF weighted cosine similarity over unigrams and bigrams. The vector
// space is built from exactly the two documents being compared, so every
// call is independent of unrelated exam content.
package similarity

import (
	"math"
	"strings"
)

// stopwords excluded from tokenization and keyword extraction.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the and for are but not you all can had
		her was one our out has have been were being their there this that with
		they from which what when where will would could should about into
		through during before after above below between under again further
		then once here why how both each few more most other some such only
		same than very just also now used using use is a an of to in on at by
		it its as be do does did another any`) {
		stopwords[w] = struct{}{}
	}
}

// Normalize lowercases s, replaces punctuation (apostrophes excepted) with
// spaces and collapses runs of whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Keywords returns the significant words of s: normalized, at least three
// characters, not a stopword, deduplicated with input order preserved.
func Keywords(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range strings.Fields(Normalize(s)) {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// tokens returns the non-stopword word stream of s, duplicates kept. Words
// are suffix-folded so close morphological variants share a term.
func tokens(s string) []string {
	var out []string
	for _, w := range strings.Fields(Normalize(s)) {
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, Fold(w))
	}
	return out
}

// Fold strips common inflectional suffixes ("decorators" -> "decorator",
// "studies" -> "study") so variants of a word compare equal. Deliberately
// lighter than a stemmer: it never touches short words or -ss/-us/-is
// endings.
func Fold(w string) string {
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"), strings.HasSuffix(w, "is"):
		return w
	case strings.HasSuffix(w, "s") && len(w) > 3:
		return w[:len(w)-1]
	}
	return w
}

// terms expands a token stream into unigrams plus bigrams.
func terms(toks []string) []string {
	out := make([]string, 0, 2*len(toks))
	out = append(out, toks...)
	for i := 0; i+1 < len(toks); i++ {
		out = append(out, toks[i]+" "+toks[i+1])
	}
	return out
}

// Score returns the TF-IDF cosine similarity of a and b in [0,1].
//
// Term frequency uses sublinear scaling (1+ln tf); inverse document
// frequency is smoothed over the two-document corpus. If either document is
// empty after stopword removal, or weighting produces a zero vector, Score
// returns 0.0 rather than an error: an unanswerable comparison is treated
// as maximally dissimilar.
func Score(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}

	ca := counts(terms(ta))
	cb := counts(terms(tb))

	// df is 1 or 2 for every term; idf = ln((1+N)/(1+df)) + 1 with N=2.
	idf := func(term string) float64 {
		df := 0.0
		if _, ok := ca[term]; ok {
			df++
		}
		if _, ok := cb[term]; ok {
			df++
		}
		return math.Log(3.0/(1.0+df)) + 1.0
	}

	weigh := func(c map[string]int) map[string]float64 {
		v := make(map[string]float64, len(c))
		for term, n := range c {
			v[term] = (1.0 + math.Log(float64(n))) * idf(term)
		}
		return v
	}

	va, vb := weigh(ca), weigh(cb)

	var dot, na, nb float64
	for term, w := range va {
		na += w * w
		if w2, ok := vb[term]; ok {
			dot += w * w2
		}
	}
	for _, w := range vb {
		nb += w * w
	}
	if na == 0 || nb == 0 {
		return 0.0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0.0, math.Min(1.0, sim))
}

func counts(terms []string) map[string]int {
	c := make(map[string]int, len(terms))
	for _, t := range terms {
		c[t]++
	}
	return c
}
