package sessionfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestParser_SkipsBlankAndToolRoles(t *testing.T) {
	path := writeTranscript(t,
		`{"role":"user","text":"do the thing"}`,
		``,
		`{"role":"tool","text":"ls -la"}`,
		`{"role":"assistant","ts":1000,"text":"done, the file is ready"}`,
	)

	p := NewParser()
	res, ok := p.Parse(path)
	require.True(t, ok)
	assert.Equal(t, "done, the file is ready", res.Text)
	assert.Equal(t, int64(1000), res.AtMS)
}

func TestParser_StopsAtUserRoleAfterAssistantStarted(t *testing.T) {
	path := writeTranscript(t,
		`{"role":"user","text":"earlier question"}`,
		`{"role":"assistant","ts":500,"text":"earlier answer"}`,
		`{"role":"user","text":"second question"}`,
		`{"role":"assistant","ts":900,"text":"latest answer"}`,
	)

	p := NewParser()
	res, ok := p.Parse(path)
	require.True(t, ok)
	assert.Equal(t, "latest answer", res.Text)
}

func TestParser_StreamingChunkMerge(t *testing.T) {
	path := writeTranscript(t,
		`{"role":"assistant","ts":100,"text":"Hello"}`,
		`{"role":"assistant","ts":200,"text":"Hello, world"}`,
	)

	p := NewParser()
	res, ok := p.Parse(path)
	require.True(t, ok)
	assert.Equal(t, "Hello, world", res.Text)
}

func TestParser_ExactDuplicateDropped(t *testing.T) {
	path := writeTranscript(t,
		`{"role":"assistant","ts":100,"text":"same text"}`,
		`{"role":"assistant","ts":200,"text":"same text"}`,
	)

	p := NewParser()
	res, ok := p.Parse(path)
	require.True(t, ok)
	assert.Equal(t, "same text", res.Text)
}

func TestParser_SkipsToolTraceAndThinkingLines(t *testing.T) {
	path := writeTranscript(t,
		`{"role":"assistant","ts":100,"text":"bash ls -la /tmp"}`,
		`{"role":"assistant","ts":150,"text":"thinking about the approach"}`,
		`{"role":"assistant","ts":200,"text":"here is the final summary"}`,
	)

	p := NewParser()
	res, ok := p.Parse(path)
	require.True(t, ok)
	assert.Equal(t, "here is the final summary", res.Text)
}

func TestParser_EmptyFileYieldsNoResult(t *testing.T) {
	path := writeTranscript(t, "")
	p := NewParser()
	_, ok := p.Parse(path)
	assert.False(t, ok)
}

func TestParser_CacheHonorsMtimeAndSize(t *testing.T) {
	path := writeTranscript(t, `{"role":"assistant","ts":100,"text":"first"}`)

	p := NewParser()
	first, ok := p.Parse(path)
	require.True(t, ok)
	assert.Equal(t, "first", first.Text)

	require.NoError(t, os.WriteFile(path, []byte(`{"role":"assistant","ts":200,"text":"second"}`+"\n"), 0o644))
	second, ok := p.Parse(path)
	require.True(t, ok)
	assert.Equal(t, "second", second.Text)
}

func TestCleanText_CollapsesBlankRunsAndTrimsTrailingWhitespace(t *testing.T) {
	got := cleanText("line one   \n\n\n\nline two")
	assert.Equal(t, "line one\n\nline two", got)
}

func TestMergeChunk_OlderPrefixOfNewestIsDropped(t *testing.T) {
	// chunks[0] holds the newest chunk found so far (scan proceeds from
	// the tail backward); an older, shorter chunk that is a prefix of it
	// is a partial send superseded by the newest one.
	chunks := mergeChunk([]string{"Hello, world!"}, "Hello, wor")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Hello, world!", chunks[0])
}
