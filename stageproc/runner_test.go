package stageproc

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podqueued/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		CmdDownload:   "podfetch --episode ${EPISODE_ID} --out ${WORK_DIR}",
		CmdDownsample: "ffmpeg -i ${WORK_DIR}/${EPISODE_SLUG}.mp3 ${WORK_DIR}/${EPISODE_SLUG}.wav",
		CmdTranscribe: "whisper-cli ${WORK_DIR}/${EPISODE_SLUG}.wav",
		CmdClean:      "podclean ${WORK_DIR}/${EPISODE_SLUG}.txt",
		CmdSummarize:  "podsum ${WORK_DIR}/${EPISODE_SLUG}.txt",
		WorkDir:       t.TempDir(),
	}
}

func TestNewRunner(t *testing.T) {
	t.Run("validates all stage templates at startup", func(t *testing.T) {
		cfg := testConfig(t)
		r, err := NewRunner(cfg, nil)
		require.NoError(t, err)
		assert.NotNil(t, r)
	})

	t.Run("rejects a missing stage command", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.CmdTranscribe = ""
		_, err := NewRunner(cfg, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transcribe")
	})

	t.Run("rejects templates with shell metacharacters", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.CmdClean = "podclean ${WORK_DIR}/x.txt && rm -rf /"
		_, err := NewRunner(cfg, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "clean")
	})
}

func TestTruncate(t *testing.T) {
	t.Run("short output untouched", func(t *testing.T) {
		assert.Equal(t, "ok", truncate("ok", 10))
	})

	t.Run("cuts long output", func(t *testing.T) {
		got := truncate(strings.Repeat("x", 20), 8)
		assert.Equal(t, "xxxxxxxx...", got)
	})

	t.Run("never splits a multi-byte rune", func(t *testing.T) {
		// "héllo wörld" repeated puts a two-byte rune across most cut
		// points.
		s := strings.Repeat("héllo wörld ", 4)
		for n := 1; n < len(s); n++ {
			got := truncate(s, n)
			assert.True(t, utf8.ValidString(got), "cut at %d produced invalid UTF-8: %q", n, got)
			assert.True(t, strings.HasPrefix(s, strings.TrimSuffix(got, "...")))
		}
	})
}
