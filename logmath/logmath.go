// Package logmath implements arithmetic on probabilities stored as natural logarithms.
package logmath

import "math"

// LogZero is the log-domain representation of probability 0.
var LogZero = math.Inf(-1)

// cutoff below which exp(diff) no longer changes the sum at double precision.
const cutoff = -37

// LogPlus returns log(P+Q) given logP and logQ.
func LogPlus(logP, logQ float64) float64 {
	hi, lo := logP, logQ
	if lo > hi {
		hi, lo = lo, hi
	}
	if math.IsInf(lo, -1) {
		return hi
	}
	diff := lo - hi
	if diff < cutoff {
		return hi
	}
	return hi + math.Log1p(math.Exp(diff))
}

// LogSum folds LogPlus over xs. An empty slice sums to LogZero.
func LogSum(xs []float64) float64 {
	s := LogZero
	for _, x := range xs {
		s = LogPlus(s, x)
	}
	return s
}

// Exp converts a log-domain value back to a probability.
func Exp(x float64) float64 {
	if math.IsInf(x, -1) {
		return 0
	}
	return math.Exp(x)
}

// Log converts a probability to the log domain, mapping 0 to LogZero.
func Log(p float64) float64 {
	if p <= 0 {
		return LogZero
	}
	return math.Log(p)
}

// IsZero reports whether x is log zero.
func IsZero(x float64) bool {
	return math.IsInf(x, -1)
}
