// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatterLayout(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Date(2026, 8, 31, 20, 14, 4, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "cache manager ready\n",
	}

	out, err := (&Formatter{}).Format(entry)
	require.NoError(t, err)

	line := string(out)
	assert.Contains(t, line, "[2026-08-31 20:14:04]")
	assert.Contains(t, line, "[info ]")
	assert.Contains(t, line, "cache manager ready")
	assert.NotContains(t, line, "ready\n\n", "trailing newlines are trimmed")
}

func TestFormatterAbbreviatesWarning(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Now(),
		Level:   log.WarnLevel,
		Message: "disk cache read failed",
	}

	out, err := (&Formatter{}).Format(entry)
	require.NoError(t, err)
	assert.Contains(t, string(out), "[warn ]")
}

func TestFormatterRendersFields(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Now(),
		Level:   log.DebugLevel,
		Message: "promoted item",
		Data:    log.Fields{"cache": "a1b2c3d4"},
	}

	out, err := (&Formatter{}).Format(entry)
	require.NoError(t, err)
	assert.Contains(t, string(out), "| cache=a1b2c3d4")
}
