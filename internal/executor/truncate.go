package executor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DefaultMaxToolResultLength bounds a tool result kept inline in working
// memory before it is spilled to disk.
const DefaultMaxToolResultLength = 20000

// ArtifactWriter spills oversized tool output to disk, grounded on the
// temp-file-then-atomic-rename pattern in internal/artifacts/local_store.go.
// It is deliberately self-contained rather than importing that package:
// internal/artifacts still carries the teacher's protobuf Artifact type and
// its original module path, pending a later adaptation pass, and the
// truncation rule here needs nothing beyond "write bytes, get a path back".
type ArtifactWriter struct {
	dir string
}

// NewArtifactWriter ensures dir exists and returns a writer rooted there.
func NewArtifactWriter(dir string) (*ArtifactWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("executor: create artifact dir: %w", err)
	}
	return &ArtifactWriter{dir: dir}, nil
}

// Write persists data under a name scoped to taskID/toolCallID and returns
// its path.
func (w *ArtifactWriter) Write(taskID, toolCallID string, data []byte) (string, error) {
	name := fmt.Sprintf("%s-%s-%s.txt", taskID, toolCallID, uuid.NewString())
	path := filepath.Join(w.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("executor: write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("executor: rename artifact: %w", err)
	}
	return path, nil
}

// Truncate returns output unchanged if it fits within maxLen. Otherwise it
// spills the full payload to an artifact via writer and returns a
// middle-elided summary pointing at it. A nil writer degrades to a plain
// elision with no artifact reference.
func Truncate(output string, maxLen int, writer *ArtifactWriter, taskID, toolCallID string) (result string, artifactPath string, truncated bool) {
	if maxLen <= 0 {
		maxLen = DefaultMaxToolResultLength
	}
	if len(output) <= maxLen {
		return output, "", false
	}

	half := maxLen / 2
	head := output[:half]
	tail := output[len(output)-half:]

	var pointer string
	if writer != nil {
		if path, err := writer.Write(taskID, toolCallID, []byte(output)); err == nil {
			artifactPath = path
			pointer = fmt.Sprintf(" full output at %s", path)
		}
	}

	summary := fmt.Sprintf("%s\n...[truncated %d of %d bytes,%s]...\n%s", head, len(output)-maxLen, len(output), pointer, tail)
	return summary, artifactPath, true
}
