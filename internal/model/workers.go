package model

// Selection restricts which groups and steps are analyzed. With All set,
// every configured job present on disk is analyzed with all its tasks.
// Otherwise Runs maps an execution path to job name to task names.
type Selection struct {
	All  bool
	Runs map[string]map[string][]string
}

// SelectAll analyzes everything configured.
func SelectAll() Selection {
	return Selection{All: true}
}

// SelectOnly analyzes only the given run/job/task combinations.
func SelectOnly(runs map[string]map[string][]string) Selection {
	return Selection{Runs: runs}
}
