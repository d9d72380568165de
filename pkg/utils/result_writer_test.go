/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: result_writer_test.go
Description: Tests for batch result files.
*/

package utils_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kleascm/kronos-explorer/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteResult(t *testing.T) {
	root := t.TempDir()
	at := time.Date(2026, 6, 11, 1, 30, 0, 0, time.UTC)

	path, err := utils.WriteResult(root, "explore", "1.0.0", at, map[string]int{"devices": 3})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "explore", "2026-06-11_01-30-00_explore_v1.0.0.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]int
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, 3, decoded["devices"])
}

func TestWriteResultRequiresKind(t *testing.T) {
	_, err := utils.WriteResult(t.TempDir(), "", "1.0.0", time.Now(), nil)
	assert.Error(t, err)
}
