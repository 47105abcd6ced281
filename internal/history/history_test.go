package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTranscript(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestListProjects_MissingRootReturnsEmpty(t *testing.T) {
	svc := New(filepath.Join(t.TempDir(), "nope"))

	projects, err := svc.ListProjects()

	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestListProjects_CountsSessionsAndSorts(t *testing.T) {
	root := t.TempDir()

	older := filepath.Join(root, "-home-alice-projA")
	newer := filepath.Join(root, "-home-alice-projB")
	writeTranscript(t, filepath.Join(older, "s1.jsonl"), `{"type":"result"}`)
	writeTranscript(t, filepath.Join(newer, "s1.jsonl"), `{"type":"result"}`)
	writeTranscript(t, filepath.Join(newer, "s2.jsonl"), `{"type":"result"}`)

	oldTime := time.Now().Add(-1 * time.Hour)
	require.NoError(t, os.Chtimes(older, oldTime, oldTime))

	svc := New(root)
	projects, err := svc.ListProjects()

	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, filepath.Base(newer), projects[0].ID)
	assert.Equal(t, 2, projects[0].SessionCount)
	assert.Equal(t, 1, projects[1].SessionCount)
}

// DecodeProjectPath always walks real directories from "/", so it is
// exercised here only through its no-match fallback; matching real
// directory structure is covered indirectly via ListProjects, which
// decodes against the actual filesystem root.
func TestDecodeProjectPath_FallsBackWhenNoMatch(t *testing.T) {
	decoded := DecodeProjectPath("-nonexistent-path-for-history-test-xyz")

	assert.Equal(t, "/nonexistent/path/for/history/test/xyz", decoded)
}

func TestProjectSessions_DerivesDisplayNameAndCount(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "proj")
	writeTranscript(t, filepath.Join(dir, "sess1.jsonl"),
		`{"type":"user","message":{"role":"user","content":"fix the flaky test\nplease"}}`,
		`{"type":"result"}`,
	)

	svc := New(root)
	sessions, err := svc.ProjectSessions("proj")

	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess1", sessions[0].ID)
	assert.Equal(t, 2, sessions[0].RecordCount)
	assert.Equal(t, "fix the flaky test please", sessions[0].DisplayName)
}

func TestProjectSessions_MissingDirReturnsEmpty(t *testing.T) {
	svc := New(t.TempDir())

	sessions, err := svc.ProjectSessions("missing")

	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestProjectSessions_ExtractsEditDiff(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "proj")
	assistantLine := `{"type":"assistant","message":{"role":"assistant","content":[` +
		`{"type":"tool_use","name":"Edit","input":{"file_path":"a.go","old_string":"foo\n","new_string":"foo\nbar\n"}}` +
		`]}}`
	writeTranscript(t, filepath.Join(dir, "sess1.jsonl"), assistantLine)

	svc := New(root)
	sessions, err := svc.ProjectSessions("proj")

	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Len(t, sessions[0].Diffs, 1)
	assert.Equal(t, "a.go", sessions[0].Diffs[0].Path)
	assert.Equal(t, 1, sessions[0].Diffs[0].Additions)
}

func TestLoadHistory_SkipsUnparseableLines(t *testing.T) {
	root := t.TempDir()
	writeTranscript(t, filepath.Join(root, "proj", "sess1.jsonl"),
		`{"type":"result"}`,
		`not json`,
		`{"type":"user"}`,
	)

	svc := New(root)
	records, err := svc.LoadHistory("proj", "sess1")

	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestLoadHistory_MissingFileReturnsNotFound(t *testing.T) {
	svc := New(t.TempDir())

	_, err := svc.LoadHistory("proj", "missing")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_RemovesFile(t *testing.T) {
	root := t.TempDir()
	writeTranscript(t, filepath.Join(root, "proj", "sess1.jsonl"), `{"type":"result"}`)

	svc := New(root)
	err := svc.Delete("proj", "sess1")

	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(root, "proj", "sess1.jsonl"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeleteBulk_PartitionsDeletedAndFailed(t *testing.T) {
	root := t.TempDir()
	writeTranscript(t, filepath.Join(root, "proj", "sess1.jsonl"), `{"type":"result"}`)

	svc := New(root)
	deleted, failed := svc.DeleteBulk("proj", []string{"sess1", "missing"})

	assert.Equal(t, []string{"sess1"}, deleted)
	assert.Equal(t, []string{"missing"}, failed)
}
