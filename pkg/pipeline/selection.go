package pipeline

import (
	"strings"

	"drivebyfix/pkg/types"
)

// Selection narrows the approved records that are acted on. An empty Only
// list selects everything; Exclude always wins.
type Selection struct {
	Only    []types.FileID
	Exclude []types.FileID
}

// ParseIDs splits a comma-separated list of file IDs, dropping blanks.
func ParseIDs(list string) []types.FileID {
	var ids []types.FileID
	for _, part := range strings.Split(list, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, types.FileID(id))
		}
	}
	return ids
}

func (s Selection) Includes(id types.FileID) bool {
	for _, ex := range s.Exclude {
		if ex == id {
			return false
		}
	}
	if len(s.Only) == 0 {
		return true
	}
	for _, only := range s.Only {
		if only == id {
			return true
		}
	}
	return false
}

// Filter returns the selected files, keeping their order.
func (s Selection) Filter(files []types.RemoteFile) []types.RemoteFile {
	out := make([]types.RemoteFile, 0, len(files))
	for _, f := range files {
		if s.Includes(f.ID) {
			out = append(out, f)
		}
	}
	return out
}
