package cmd

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idscan/internal/testutil"
)

func TestBatchCommandCSV(t *testing.T) {
	dir := t.TempDir()
	writeCard(t, dir, "a.png")
	writeCard(t, filepath.Join(dir, "nested"), "b.png")
	output := filepath.Join(t.TempDir(), "out.csv")

	out, err := execute(t, "batch", dir, "--recursive", "--workers", "2",
		"--text", testutil.EmiratesCardText, "--format", "csv", "--output", output, "--stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Results written to "+output)
	assert.Contains(t, out, "Matched: 2")

	f, err := os.Open(output)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "file", rows[0][0])
	assert.Equal(t, "784-1990-1234567-1", rows[1][1])
	assert.Equal(t, "true", rows[2][7])
}

func TestBatchCommandText(t *testing.T) {
	dir := t.TempDir()
	writeCard(t, dir, "a.png")
	writeCard(t, filepath.Join(dir, "nested"), "b.png")

	out, err := execute(t, "batch", dir, "--text", testutil.GroupedCardText, "--format", "text")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "id_number: 1234 5678 9012"), "nested dir is skipped without --recursive")
}

func TestBatchCommandErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "batch", dir, "--text", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no supported input files")

	_, err = execute(t, "batch", dir, "--text", "x", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv")

	card := writeCard(t, dir, "card.png")
	broken := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(broken, []byte("not a png"), 0o600))
	_, err = execute(t, "batch", card, broken, "--text", testutil.EmiratesCardText)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 inputs failed")
}
