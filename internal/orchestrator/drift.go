package orchestrator

import (
	"fmt"
	"strings"

	"github.com/wI2L/jsondiff"
)

// describeDrift renders a human-readable summary of how a user-modified
// config value differs from what sift last wrote.
func describeDrift(recorded, current any) []string {
	patches, err := jsondiff.Compare(recorded, current)
	if err != nil || len(patches) == 0 {
		return nil
	}

	lines := make([]string, 0, len(patches))
	for _, op := range patches {
		lines = append(lines, translateOperation(op))
	}
	return lines
}

func translateOperation(op jsondiff.Operation) string {
	path := strings.TrimPrefix(op.Path, "/")
	if path == "" {
		path = "(value)"
	}
	switch op.Type {
	case jsondiff.OperationAdd:
		return fmt.Sprintf("%s added (%v)", path, op.Value)
	case jsondiff.OperationRemove:
		return fmt.Sprintf("%s removed", path)
	case jsondiff.OperationReplace:
		return fmt.Sprintf("%s changed to %v", path, op.Value)
	default:
		return fmt.Sprintf("%s %s", path, op.Type)
	}
}
