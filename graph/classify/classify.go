// Package classify implements the deterministic failure classifier (C7):
// a pure function from (status code, error text) to a failure category.
package classify

import "regexp"

// Category is one of the three failure categories the engine reacts to.
type Category string

const (
	Transient Category = "TRANSIENT"
	Auth      Category = "AUTH"
	Systemic  Category = "SYSTEMIC"
)

var transientText = regexp.MustCompile(`(?i)timeout|timed out|connection reset`)

// Classify maps (statusCode, errorText) to a Category. It is a pure
// function: equal inputs always yield equal outputs (invariant 6).
//
// Ordered rules, first match wins:
//  1. status == 429, or errorText matches /timeout|timed out|connection reset/i -> Transient
//  2. status in {401, 403} -> Auth
//  3. status in {404, 405, 410}, or status >= 500 -> Systemic
//  4. otherwise -> Systemic
func Classify(statusCode int, errorText string) Category {
	if statusCode == 429 || transientText.MatchString(errorText) {
		return Transient
	}
	if statusCode == 401 || statusCode == 403 {
		return Auth
	}
	if statusCode == 404 || statusCode == 405 || statusCode == 410 || statusCode >= 500 {
		return Systemic
	}
	return Systemic
}
