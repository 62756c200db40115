// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"strings"
	"unicode/utf8"
)

// ValidatorFunc decides whether an answer is fit to be cached or served
// for the given query. It must not mutate cache state.
type ValidatorFunc func(query, answer string) bool

// MinAnswerLength is the shortest answer (in runes) the default
// validator accepts.
const MinAnswerLength = 10

// failureMarkers are substrings that mark an answer as a failed or
// refused generation. Matching is case-insensitive for the Latin ones.
var failureMarkers = []string{
	"抱歉",
	"无法回答",
	"发生错误",
	"sorry",
	"unable to answer",
	"error occurred",
	"i don't know",
}

// DefaultValidator is the built-in answer heuristic: long enough and
// free of known failure markers.
func DefaultValidator(_ string, answer string) bool {
	trimmed := strings.TrimSpace(answer)
	if utf8.RuneCountInString(trimmed) < MinAnswerLength {
		return false
	}
	lowered := strings.ToLower(trimmed)
	for _, marker := range failureMarkers {
		if strings.Contains(lowered, marker) {
			return false
		}
	}
	return true
}
