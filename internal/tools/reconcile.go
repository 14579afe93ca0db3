package tools

import "os"

// Plan is the diff between the desired artifact set and what is staged.
type Plan struct {
	// Fetch lists the groups that need downloading.
	Fetch []Artifact
	// Remove lists stale paths to delete.
	Remove []string
}

// Empty reports whether the plan requires no work.
func (p Plan) Empty() bool {
	return len(p.Fetch) == 0 && len(p.Remove) == 0
}

// Reconcile diffs desired against present state. Each group is judged
// independently by its probe; force marks every group for redownload.
func Reconcile(desired []Artifact, present func(path string) bool, force bool) Plan {
	if present == nil {
		present = fileExists
	}

	var plan Plan
	for _, artifact := range desired {
		if !force && present(artifact.Probe) {
			continue
		}
		plan.Fetch = append(plan.Fetch, artifact)
		for _, stale := range artifact.Removes {
			if present(stale) {
				plan.Remove = append(plan.Remove, stale)
			}
		}
	}
	return plan
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
