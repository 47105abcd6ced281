package ptysession

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-run/novad/pkg/types"
)

func TestResolveBinary_FindsCandidate(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-cli")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	path, err := ResolveBinary("fake-cli", []string{bin})
	require.NoError(t, err)
	assert.Equal(t, bin, path)
}

func TestResolveBinary_SkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	path, err := ResolveBinary("definitely-not-a-real-binary-xyz", []string{dir})
	assert.Error(t, err)
	assert.Empty(t, path)
}

func TestCandidatePaths_IncludesExtrasFirst(t *testing.T) {
	paths := CandidatePaths("claude", "/extra/one", "/extra/two")
	require.GreaterOrEqual(t, len(paths), 2)
	assert.Equal(t, "/extra/one", paths[0])
	assert.Equal(t, "/extra/two", paths[1])
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	projectPath := t.TempDir()
	return New("s1", "claude_cli", "sonnet", "/bin/true", nil, types.InvokeOptions{ProjectPath: projectPath})
}

func TestSession_View_CoarsensInitialState(t *testing.T) {
	s := newTestSession(t)
	view := s.View()
	assert.Equal(t, "s1", view.ID)
	assert.Equal(t, types.StatusStarting, view.Status)
	assert.Nil(t, view.ExitCode)
}

func TestSession_HandleLine_InitTransitionsToReady(t *testing.T) {
	s := newTestSession(t)

	var events []types.SessionEvent
	unsub := s.Subscribe(func(ev types.SessionEvent) { events = append(events, ev) })
	defer unsub()

	s.handleLine([]byte(`{"type":"system","subtype":"init","session_id":"upstream-1"}`))

	require.Equal(t, types.StateReady, s.State())
	require.Len(t, events, 2)
	assert.Equal(t, types.EventInit, events[0].Type)
	initData := events[0].Data.(types.InitEventData)
	assert.Equal(t, "upstream-1", initData.UpstreamSessionID)
}

func TestSession_HandleLine_AssistantBumpsMessageCountAndProcessing(t *testing.T) {
	s := newTestSession(t)
	s.handleLine([]byte(`{"type":"assistant"}`))

	assert.Equal(t, types.StateProcessing, s.State())
	assert.Equal(t, 1, s.View().MessageCount)
}

func TestSession_HandleLine_ResultGoesIdle(t *testing.T) {
	s := newTestSession(t)
	s.handleLine([]byte(`{"type":"assistant"}`))
	s.handleLine([]byte(`{"type":"result","session_id":"upstream-1"}`))

	assert.Equal(t, types.StateIdle, s.State())
	assert.Equal(t, "upstream-1", s.View().UpstreamSessionID)
}

func TestSession_HandleLine_FirstUpstreamIDWins(t *testing.T) {
	s := newTestSession(t)
	s.handleLine([]byte(`{"type":"system","subtype":"init","session_id":"first"}`))
	s.handleLine([]byte(`{"type":"result","session_id":"second"}`))

	assert.Equal(t, "first", s.View().UpstreamSessionID)
}

func TestSession_HandleLine_UnparseableEmitsRawOutput(t *testing.T) {
	s := newTestSession(t)

	var events []types.SessionEvent
	unsub := s.Subscribe(func(ev types.SessionEvent) { events = append(events, ev) })
	defer unsub()

	s.handleLine([]byte("not json at all"))

	require.Len(t, events, 1)
	assert.Equal(t, types.EventOutput, events[0].Type)
	data := events[0].Data.(types.OutputEventData)
	assert.Equal(t, "not json at all", data.Raw)
}

func TestSession_HandleLine_EmptyLineIsIgnored(t *testing.T) {
	s := newTestSession(t)

	var calls int
	unsub := s.Subscribe(func(types.SessionEvent) { calls++ })
	defer unsub()

	s.handleLine([]byte("\r"))
	assert.Zero(t, calls)
}

func TestIndexNewline(t *testing.T) {
	assert.Equal(t, 3, indexNewline([]byte("abc\ndef")))
	assert.Equal(t, -1, indexNewline([]byte("abcdef")))
}

func TestTrimCR(t *testing.T) {
	assert.Equal(t, []byte("abc"), trimCR([]byte("abc\r")))
	assert.Equal(t, []byte("abc"), trimCR([]byte("abc")))
}

func TestSession_Stop_NoProcessIsNoop(t *testing.T) {
	s := newTestSession(t)
	err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.StateStopped, s.State())
}

func TestSession_Start_MissingProjectPathErrors(t *testing.T) {
	s := New("s2", "claude_cli", "sonnet", "/bin/true", nil, types.InvokeOptions{ProjectPath: "/no/such/path"})

	var events []types.SessionEvent
	unsub := s.Subscribe(func(ev types.SessionEvent) { events = append(events, ev) })
	defer unsub()

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.StateError, s.State())
	require.Len(t, events, 1)
	assert.Equal(t, types.EventError, events[0].Type)
}

func TestSession_HandleLine_ControlRequestAutoApprovesAllowedTool(t *testing.T) {
	projectPath := t.TempDir()
	s := New("s3", "claude_cli", "sonnet", "/bin/true", nil, types.InvokeOptions{
		ProjectPath: projectPath,
		AllowTools:  []string{"Read"},
	})

	var events []types.SessionEvent
	unsub := s.Subscribe(func(ev types.SessionEvent) { events = append(events, ev) })
	defer unsub()

	s.handleLine([]byte(`{"type":"control_request","request_id":"req-1","tool_name":"Read"}`))

	assert.Empty(t, events, "an auto-resolved request must not raise an interactive-prompt event")
}

func TestSession_HandleLine_ControlRequestAsksWhenUnmatched(t *testing.T) {
	projectPath := t.TempDir()
	s := New("s4", "claude_cli", "sonnet", "/bin/true", nil, types.InvokeOptions{ProjectPath: projectPath})

	var events []types.SessionEvent
	unsub := s.Subscribe(func(ev types.SessionEvent) { events = append(events, ev) })
	defer unsub()

	s.handleLine([]byte(`{"type":"control_request","request_id":"req-2","tool_name":"WebFetch"}`))

	require.Len(t, events, 1)
	assert.Equal(t, types.EventInteractivePrompt, events[0].Type)
	prompt := events[0].Data.(types.InteractivePrompt)
	assert.Equal(t, "req-2", prompt.ID)
	assert.Equal(t, "WebFetch", prompt.Tool)
}

func TestSession_Respond_UnknownPromptErrors(t *testing.T) {
	s := newTestSession(t)
	err := s.Respond("no-such-prompt", "allow")
	assert.Error(t, err)
}

func TestSession_Subscribe_Unsubscribe(t *testing.T) {
	s := newTestSession(t)

	var calls int
	unsub := s.Subscribe(func(types.SessionEvent) { calls++ })
	s.handleLine([]byte(`{"type":"assistant"}`))
	assert.Equal(t, 1, calls)

	unsub()
	s.handleLine([]byte(`{"type":"assistant"}`))
	assert.Equal(t, 1, calls, "unsubscribed callback must not fire again")
}
