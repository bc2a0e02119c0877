package model

import "time"

// IdentityKey is the composite identity of an archived execution.
type IdentityKey struct {
	RunVersion string `json:"run_version"`
	BaseDir    string `json:"base_dir"`
	TopName    string `json:"top_name"`
	User       string `json:"user_name"`
	Block      string `json:"block_name"`
	DKVerTag   string `json:"dk_ver_tag"`
}

// ArchiveEntry is the index row of one archived execution.
type ArchiveEntry struct {
	ID int64 `json:"id"`
	IdentityKey
	FullPath       string    `json:"full_path"`
	ArchivedAt     time.Time `json:"archive_timestamp"`
	DataFile       string    `json:"data_file"`
	DataHash       string    `json:"data_hash"`
	FileSize       int64     `json:"file_size"`
	GroupCount     int       `json:"job_count"`
	StepCount      int       `json:"task_count"`
	KeywordCount   int       `json:"keyword_count"`
	CompletionRate float64   `json:"completion_rate"`
}

// ArchiveRecord is the on-disk document stored under the archive data dir.
type ArchiveRecord struct {
	ArchivedAt time.Time  `json:"archive_timestamp"`
	Execution  *Execution `json:"execution"`
}

// ArchiveStats summarises the archive.
type ArchiveStats struct {
	TotalEntries          int        `json:"total_entries"`
	UniqueExecutions      int        `json:"unique_executions"`
	TotalSteps            int        `json:"total_tasks"`
	TotalKeywords         int        `json:"total_keywords"`
	RecentEntries         int        `json:"recent_entries"`
	AverageCompletionRate float64    `json:"average_completion_rate"`
	ArchiveSizeBytes      int64      `json:"archive_size_bytes"`
	ArchiveSizeMB         float64    `json:"archive_size_mb"`
	Oldest                *time.Time `json:"oldest,omitempty"`
	Newest                *time.Time `json:"newest,omitempty"`
}

// ListFilter narrows List results. Zero fields do not filter.
type ListFilter struct {
	RunVersion string    `json:"run_version,omitempty"` // substring match
	User       string    `json:"user_name,omitempty"`
	BaseDir    string    `json:"base_dir,omitempty"`
	From       time.Time `json:"date_from,omitempty"`
	To         time.Time `json:"date_to,omitempty"`
}

// KeywordRow is one flattened metric across the archive.
type KeywordRow struct {
	EntryID    int64     `json:"archive_entry_id"`
	RunVersion string    `json:"run_version"`
	User       string    `json:"user_name"`
	Block      string    `json:"block_name"`
	DKVerTag   string    `json:"dk_ver_tag"`
	ArchivedAt time.Time `json:"archive_timestamp"`
	Group      string    `json:"job_name"`
	Step       string    `json:"task_name"`
	Keyword    string    `json:"keyword_name"`
	Value      string    `json:"keyword_value"`
	Unit       string    `json:"keyword_unit,omitempty"`
	SourceFile string    `json:"source_file,omitempty"`
}

// KeywordSummary aggregates occurrences of one metric name.
type KeywordSummary struct {
	Name    string   `json:"keyword_name"`
	Count   int      `json:"count"`
	Steps   []string `json:"tasks"`
	Runs    []string `json:"runs"`
	Units   []string `json:"units"`
	Samples []string `json:"sample_values"`
}

// RepairResult reports what a repair pass did.
type RepairResult struct {
	Scanned int      `json:"scanned"`
	Indexed int      `json:"indexed"`
	Failed  []string `json:"failed,omitempty"`
}
