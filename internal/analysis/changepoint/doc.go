// Package changepoint finds the indices at which a series' mean level shifts.
//
// The search is an exact dynamic program over all segmentations with
// candidate pruning: F[t] is the cheapest way to explain the first t samples,
// where each segment costs its residual sum of squares around its own mean
// plus a fixed penalty. A larger penalty yields fewer changepoints.
//
// Everything in this package is a pure function of its arguments and is safe
// for concurrent use.
package changepoint
