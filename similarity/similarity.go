// Package similarity implements the two scoring formulas spec.md §4.12
// specifies for a matched (document, field, term): TF·IDF and BM25. Both
// formulas are taken verbatim from spec.md, which intentionally departs
// from original_source's kite/src/similarity.rs reference implementation
// (see DESIGN.md) - spec.md is authoritative here.
package similarity

import "math"

// Model scores one term's contribution to a document, given:
//   - termFrequency: this document's raw term frequency (≥1, per
//     spec.md §3's "frequency 1 is encoded by key absence").
//   - fieldLength: the document's decoded quantized field length. Read by
//     the scoring executor for every TermScorer regardless of model (per
//     spec.md §4.10); TFIDF and BM25 as spec.md §4.12 defines them do not
//     consume it, but the parameter is part of the shared contract so a
//     future length-normalized model can be added without changing the
//     executor.
//   - totalDocs, totalTokens: field-level aggregate statistics (N and
//     total token count across all active segments).
//   - docFreq: the term's document frequency within the field (df).
type Model interface {
	Score(termFrequency int64, fieldLength, totalDocs, totalTokens, docFreq float64) float64
}

// idf implements spec.md §4.12's shared idf term:
// idf = log₁₀((N+1)/(df+1)) + 1. The +1 terms avoid division by zero for
// both N=0 and df=0.
func idf(totalDocs, docFreq float64) float64 {
	return math.Log10((totalDocs+1)/(docFreq+1)) + 1
}

// TFIDF implements spec.md §4.12's TF·IDF model:
// tf = √term_frequency; score = tf · idf.
type TFIDF struct{}

func (TFIDF) Score(termFrequency int64, _, totalDocs, _, docFreq float64) float64 {
	if termFrequency <= 0 {
		return 0
	}
	tf := math.Sqrt(float64(termFrequency))
	return tf * idf(totalDocs, docFreq)
}

// BM25 implements spec.md §4.12's BM25(k1, b) model:
// tf = √term_frequency; norm = 1/tf; avg = total_tokens/total_docs;
// score = idf · (k1+1) · tf / (tf + k1·((1−b) + b·norm/avg)).
type BM25 struct {
	K1 float64
	B  float64
}

// DefaultBM25 returns the BM25 model with spec.md's default constants,
// k1=1.2, b=0.75.
func DefaultBM25() BM25 {
	return BM25{K1: 1.2, B: 0.75}
}

func (m BM25) Score(termFrequency int64, _, totalDocs, totalTokens, docFreq float64) float64 {
	if termFrequency <= 0 {
		return 0
	}
	tf := math.Sqrt(float64(termFrequency))
	norm := 1 / tf
	avg := totalTokens / totalDocs
	if totalDocs <= 0 {
		// No corpus-wide length data yet; fall back to neutral
		// normalization rather than dividing by zero.
		avg = 1
	}
	denom := tf + m.K1*((1-m.B)+m.B*norm/avg)
	return idf(totalDocs, docFreq) * (m.K1 + 1) * tf / denom
}
