// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// ContextualInfo carries the caller-side context a KeyStrategy may fold
// into the fingerprint. All fields are optional.
type ContextualInfo struct {
	// SessionID identifies the calling conversation/session.
	SessionID string

	// History holds recent conversation turns, oldest first.
	History []string

	// Keywords are caller-supplied tags (e.g. "low-level", "high-level").
	Keywords []string
}

// KeyStrategy turns a raw query plus optional context into a deterministic
// fingerprint string. Implementations must be pure: identical inputs always
// produce identical fingerprints.
type KeyStrategy interface {
	// ComputeKey returns the fingerprint for the query. info may be nil.
	ComputeKey(query string, info *ContextualInfo) string

	// Name returns the strategy name for logs and configuration.
	Name() string
}

// hashKey produces the fixed-length fingerprint. SHA-256 gives well over
// the 128 bits needed to treat accidental collisions as impossible.
func hashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SimpleStrategy keys on the query text alone.
type SimpleStrategy struct{}

func (SimpleStrategy) ComputeKey(query string, _ *ContextualInfo) string {
	return hashKey(query)
}

func (SimpleStrategy) Name() string { return "simple" }

// GlobalStrategy keys on a normalized form of the query so that all
// sessions collide onto the same entry. Normalization trims, case-folds,
// and collapses internal whitespace.
type GlobalStrategy struct{}

func (GlobalStrategy) ComputeKey(query string, _ *ContextualInfo) string {
	return hashKey("global", normalizeQuery(query))
}

func (GlobalStrategy) Name() string { return "global" }

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// ContextAwareStrategy keys on the query plus the last ContextWindow turns
// of conversation history. Without context it degrades to SimpleStrategy.
type ContextAwareStrategy struct {
	// ContextWindow is the number of trailing history turns folded into
	// the key. Values below 1 fall back to DefaultContextWindow.
	ContextWindow int
}

// DefaultContextWindow is the number of history turns used when none is
// configured.
const DefaultContextWindow = 3

func (s ContextAwareStrategy) ComputeKey(query string, info *ContextualInfo) string {
	parts := s.contextParts(query, info)
	return hashKey(parts...)
}

func (s ContextAwareStrategy) Name() string { return "context_aware" }

func (s ContextAwareStrategy) contextParts(query string, info *ContextualInfo) []string {
	if info == nil || len(info.History) == 0 {
		return []string{query}
	}
	window := s.ContextWindow
	if window < 1 {
		window = DefaultContextWindow
	}
	history := info.History
	if len(history) > window {
		history = history[len(history)-window:]
	}
	parts := make([]string, 0, len(history)+2)
	parts = append(parts, query, info.SessionID)
	parts = append(parts, history...)
	return parts
}

// ContextAndKeywordAwareStrategy extends ContextAwareStrategy with a
// canonicalized keyword set: keywords are deduplicated and sorted before
// hashing, so reordering an identical set never changes the key while
// differing sets never collide.
type ContextAndKeywordAwareStrategy struct {
	ContextAwareStrategy
}

func (s ContextAndKeywordAwareStrategy) ComputeKey(query string, info *ContextualInfo) string {
	parts := s.contextParts(query, info)
	if info != nil && len(info.Keywords) > 0 {
		parts = append(parts, canonicalKeywords(info.Keywords)...)
	}
	return hashKey(parts...)
}

func (s ContextAndKeywordAwareStrategy) Name() string { return "context_and_keyword_aware" }

func canonicalKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// StrategyByName resolves a configuration name to a strategy instance.
// Unknown names return nil; config validation rejects them earlier.
func StrategyByName(name string, contextWindow int) KeyStrategy {
	switch name {
	case "simple":
		return SimpleStrategy{}
	case "global":
		return GlobalStrategy{}
	case "context_aware":
		return ContextAwareStrategy{ContextWindow: contextWindow}
	case "context_and_keyword_aware":
		return ContextAndKeywordAwareStrategy{ContextAwareStrategy{ContextWindow: contextWindow}}
	}
	return nil
}
