package models

// CleanupReport is produced and consumed within one cleanup invocation.
type CleanupReport struct {
	FilesDeleted  int            `json:"files_deleted"`
	BytesFreed    int64          `json:"bytes_freed"`
	LogsArchived  int            `json:"logs_archived"`
	Errors        []string       `json:"errors,omitempty"`
	DryRun        bool           `json:"dry_run"`
	Paths         []string       `json:"paths,omitempty"`
	ByCategory    map[string]int `json:"by_category,omitempty"`
	GitMaintained bool           `json:"git_maintained"`
}
