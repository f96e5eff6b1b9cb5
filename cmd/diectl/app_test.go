package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/godice/pkg/config"
	"github.com/itohio/godice/pkg/dataset"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Flash.Image = filepath.Join(dir, "die.bin")
	cfg.Flash.EraseLatency = time.Millisecond
	cfg.Journal.Path = filepath.Join(dir, "journal.db")
	return cfg
}

func runCommand(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	var out bytes.Buffer
	a := &app{cfg: cfg, out: &out, transport: transportMock}
	err := a.run(ctx, args[0], args[1:])
	return out.String(), err
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	dir := filepath.Dir(cfg.Flash.Image)
	src := filepath.Join(dir, "src.yaml")
	dst := filepath.Join(dir, "dst.yaml")

	_, err := runCommand(t, cfg, "defaults", src)
	require.NoError(t, err)

	doc, err := dataset.LoadDocument(src)
	require.NoError(t, err)
	// keep the single-face animations and the roll rule
	doc.Animations = doc.Animations[:3]
	doc.Actions = doc.Actions[2:3]
	doc.Rules = []dataset.RuleDoc{{Condition: 2, Action: 0}}
	doc.Behaviors[0].RulesCount = 1
	require.NoError(t, doc.Save(src))
	want, err := doc.Build()
	require.NoError(t, err)

	out, err := runCommand(t, cfg, "upload", src)
	require.NoError(t, err)
	assert.Contains(t, out, "uploaded")

	_, err = runCommand(t, cfg, "download", dst)
	require.NoError(t, err)
	got, err := dataset.LoadDocument(dst)
	require.NoError(t, err)
	img, err := got.Build()
	require.NoError(t, err)
	assert.Equal(t, want, img)

	out, err = runCommand(t, cfg, "identify")
	require.NoError(t, err)
	assert.Contains(t, out, "die 1")

	out, err = runCommand(t, cfg, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "upload")
	assert.Contains(t, out, "download")
	assert.Contains(t, out, "identify")
	assert.Contains(t, out, "complete")
}

func TestInfo(t *testing.T) {
	cfg := testConfig(t)
	src := filepath.Join(t.TempDir(), "defaults.yaml")
	_, err := runCommand(t, cfg, "defaults", src)
	require.NoError(t, err)

	out, err := runCommand(t, cfg, "info", src)
	require.NoError(t, err)
	assert.Contains(t, out, "payload 176 bytes")
	assert.Contains(t, out, "animations")
	assert.NotContains(t, out, "palette")
}

func TestDefaultsToStdout(t *testing.T) {
	out, err := runCommand(t, testConfig(t), "defaults")
	require.NoError(t, err)
	doc, err := dataset.ParseDocument([]byte(out))
	require.NoError(t, err)
	img, err := doc.Build()
	require.NoError(t, err)
	assert.Equal(t, dataset.Defaults(), img)
}

func TestUsageErrors(t *testing.T) {
	cfg := testConfig(t)
	for _, args := range [][]string{
		{"bogus"},
		{"upload"},
		{"info"},
		{"download", "a", "b"},
		{"history", "many"},
	} {
		_, err := runCommand(t, cfg, args...)
		assert.ErrorIs(t, err, errUsage, "%v", args)
	}
}
