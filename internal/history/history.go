// Package history implements read-only and delete access to the
// transcript directory: decoding encoded project directory names back
// to filesystem paths, counting and summarizing sessions, and loading
// or deleting individual transcripts.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nova-run/novad/pkg/types"
)

// maxDecodeIterations bounds the greedy directory-name decode walk,
// guaranteeing termination per spec 4.6.
const maxDecodeIterations = 256

// Service reads and mutates the transcript tree rooted at Root.
type Service struct {
	Root string
}

func New(root string) *Service {
	return &Service{Root: root}
}

// ErrNotFound is returned by LoadHistory for a missing transcript file.
var ErrNotFound = fmt.Errorf("not found")

// ListProjects enumerates subdirectories of Root, decodes each name to
// an absolute path, counts .jsonl files, and returns the list sorted by
// last_modified descending.
func (s *Service) ListProjects() ([]types.Project, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.Project{}, nil
		}
		return nil, err
	}

	projects := make([]types.Project, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.Root, e.Name())
		info, err := os.Stat(dir)
		if err != nil {
			continue
		}

		path := DecodeProjectPath(e.Name())
		count, _ := countJSONL(dir)

		projects = append(projects, types.Project{
			ID:           e.Name(),
			Name:         filepath.Base(path),
			Path:         path,
			LastModified: info.ModTime(),
			SessionCount: count,
		})
	}

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].LastModified.After(projects[j].LastModified)
	})
	return projects, nil
}

func countJSONL(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			n++
		}
	}
	return n, nil
}

// DecodeProjectPath decodes an encoded project directory name (absolute
// path with "/" mapped to "-") back to a filesystem path via a greedy
// best-match descent: split on "-", walk from "/", at each level find
// the real directory entry whose "_"->"-" substitution matches the
// longest prefix of the remaining parts, consume that many parts, and
// descend. If no real entry matches, fall back to joining the remaining
// parts verbatim.
func DecodeProjectPath(encoded string) string {
	parts := strings.Split(strings.TrimPrefix(encoded, "-"), "-")
	if len(parts) == 0 {
		return "/"
	}

	dir := "/"
	i := 0
	for iter := 0; i < len(parts) && iter < maxDecodeIterations; iter++ {
		entries, err := os.ReadDir(dir)
		if err != nil {
			break
		}

		bestConsumed := 0
		bestName := ""
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			encodedName := strings.ReplaceAll(e.Name(), "_", "-")
			nameParts := strings.Split(encodedName, "-")
			consumed := matchPrefix(parts[i:], nameParts)
			if consumed > bestConsumed {
				bestConsumed = consumed
				bestName = e.Name()
			}
		}

		if bestConsumed == 0 {
			break
		}
		dir = filepath.Join(dir, bestName)
		i += bestConsumed
	}

	if i < len(parts) {
		dir = filepath.Join(append([]string{dir}, parts[i:]...)...)
	}
	return dir
}

func matchPrefix(remaining, candidate []string) int {
	if len(candidate) > len(remaining) {
		return 0
	}
	for i, c := range candidate {
		if remaining[i] != c {
			return 0
		}
	}
	return len(candidate)
}

// ProjectSessions lists the .jsonl files in a project directory,
// deriving a display name from each file's first record.
func (s *Service) ProjectSessions(projectID string) ([]types.ProjectSession, error) {
	dir := filepath.Join(s.Root, projectID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.ProjectSession{}, nil
		}
		return nil, err
	}

	sessions := make([]types.ProjectSession, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		count, display, rawLines := summarizeTranscript(path)
		sessions = append(sessions, types.ProjectSession{
			ID:           strings.TrimSuffix(e.Name(), ".jsonl"),
			DisplayName:  display,
			LastModified: info.ModTime(),
			RecordCount:  count,
			Diffs:        extractDiffs(rawLines),
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastModified.After(sessions[j].LastModified)
	})
	return sessions, nil
}

func summarizeTranscript(path string) (count int, display string, lines []string) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		count++
		lines = append(lines, line)
		if first {
			first = false
			display = deriveDisplayName(line)
		}
	}
	return count, display, lines
}

func deriveDisplayName(line string) string {
	var record types.TranscriptRecord
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return ""
	}
	text := ""
	if record.Message != nil {
		if s, ok := record.Message.Content.(string); ok {
			text = s
		}
	}
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) > 50 {
		text = text[:50]
	}
	return text
}

// LoadHistory reads a session's transcript, parsing each non-empty line
// as JSON and skipping unparseable lines. A missing file is ErrNotFound.
func (s *Service) LoadHistory(projectID, sessionID string) ([]types.TranscriptRecord, error) {
	path := filepath.Join(s.Root, projectID, sessionID+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	var records []types.TranscriptRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record types.TranscriptRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Delete removes a single session transcript file.
func (s *Service) Delete(projectID, sessionID string) error {
	path := filepath.Join(s.Root, projectID, sessionID+".jsonl")
	return os.Remove(path)
}

// DeleteBulk removes multiple session transcripts, never aborting the
// whole batch on one failure.
func (s *Service) DeleteBulk(projectID string, sessionIDs []string) (deleted, failed []string) {
	for _, id := range sessionIDs {
		if err := s.Delete(projectID, id); err != nil {
			failed = append(failed, id)
		} else {
			deleted = append(deleted, id)
		}
	}
	return deleted, failed
}
