// Package syncengine is the Sync Engine (§4.4): cursor-based
// incremental replication (pull), optimistic-concurrency change
// application (push), two-phase upload validation (confirm), and
// vault-level summary (status). It is the largest single component of
// the Sync Core.
package syncengine

import "time"

// Operation is the kind of change a pull or push entry describes.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// File states per §4.4.6. Not persisted as a column — derived from
// deleted_at and blob presence — but named here because the service
// logic is easiest to read when it talks in these terms.
type fileState string

const (
	stateAbsent  fileState = "absent"
	statePending fileState = "pending"
	stateLive    fileState = "live"
	stateDeleted fileState = "deleted"
)

// VaultFile is a row of the vault_files table.
type VaultFile struct {
	ID                   string
	VaultID              string
	EncryptedPath        string
	ContentHash          string
	EncryptedContentHash string
	SizeBytes            int64
	ModifiedAt           int64
	Version              int64
	StorageKey           string
	CreatedAt            int64
	UpdatedAt            int64
	DeletedAt            *int64
}

func (f *VaultFile) isLive() bool { return f.DeletedAt == nil }

// Change is one entry of a push request body.
type Change struct {
	EncryptedPath string    `json:"encrypted_path"`
	Operation     Operation `json:"operation"`
	ContentHash   string    `json:"content_hash,omitempty"`
	Size          int64     `json:"size,omitempty"`
	ModifiedAt    int64     `json:"modified_at,omitempty"`
	BaseVersion   *int64    `json:"base_version,omitempty"`
}

// Verdict is per-change push outcome.
type Verdict string

const (
	VerdictAccepted Verdict = "accepted"
	VerdictConflict Verdict = "conflict"
	VerdictError    Verdict = "error"
)

// PushResult is the outcome of one Change in a Push call.
type PushResult struct {
	EncryptedPath string  `json:"encrypted_path"`
	Verdict       Verdict `json:"verdict"`
	Reason        string  `json:"reason,omitempty"`
	FileID        string  `json:"file_id,omitempty"`
	NewVersion    *int64  `json:"new_version,omitempty"`
	UploadURL     string  `json:"upload_url,omitempty"`
}

// PullChange is one entry of a pull response's changes array.
type PullChange struct {
	FileID       string    `json:"file_id"`
	Operation    Operation `json:"operation"`
	DownloadURL  string    `json:"download_url,omitempty"`
	ContentHash  string    `json:"content_hash,omitempty"`
	Version      int64     `json:"version,omitempty"`
	ModifiedAt   int64     `json:"modified_at,omitempty"`
	SizeBytes    int64     `json:"size_bytes,omitempty"`
}

// PullResult is the full pull response.
type PullResult struct {
	Changes    []PullChange `json:"changes"`
	NextCursor string       `json:"next_cursor"`
	HasMore    bool         `json:"has_more"`
}

// ConfirmResult is the full confirm response.
type ConfirmResult struct {
	Confirmed []string `json:"confirmed"`
	Failed    []string `json:"failed"`
}

// StatusResult summarizes a vault's live files.
type StatusResult struct {
	FileCount      int64 `json:"file_count"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
	LastModified   int64 `json:"last_modified"`
}

func unixNow() int64 { return time.Now().Unix() }

func downloadURL(vaultID, fileID string) string {
	return "/api/v1/vaults/" + vaultID + "/files/" + fileID + "/download"
}

func storageKey(vaultID, fileID string) string {
	return "vaults/" + vaultID + "/" + fileID
}
