package statedb

import "time"

// Status is a message row's position in the lifecycle state machine
// (spec §3, §4.7): discovered -> downloaded -> imported, with skipped and
// failed as the two other terminal states.
type Status string

const (
	StatusDiscovered Status = "discovered"
	StatusDownloaded Status = "downloaded"
	StatusSkipped    Status = "skipped"
	StatusImported   Status = "imported"
	StatusFailed     Status = "failed"
)

// SkipReason distinguishes the two ways a row can land in StatusSkipped.
type SkipReason string

const (
	SkipDuplicate SkipReason = "duplicate"
	SkipFiltered  SkipReason = "filtered"
)

// FolderStatus is a folder checkpoint's scan state.
type FolderStatus string

const (
	FolderScanning FolderStatus = "scanning"
	FolderDone     FolderStatus = "done"
	FolderError    FolderStatus = "error"
)

// MessageRow is one row of the messages table.
type MessageRow struct {
	ID              int64
	Fingerprint     string
	MessageIDNorm   string
	Folder          string
	UID             uint32
	UIDValidity     uint32
	Subject         string
	From            string
	To              string
	CC              string
	BCC             string
	DateHeader      time.Time
	ReceivedAt      time.Time
	EvidencePath    string
	EvidenceSHA256  string
	SizeBytes       int64
	Status          Status
	SkipReason      string
	RetryCount      int
	LastErrorKind   string
	LastErrorAt     time.Time
	Notes           string
	GmailMessageID  string
	GmailThreadID   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FolderRow is one row of the folders table.
type FolderRow struct {
	Name           string
	UIDValidity    uint32
	HighestUIDDone uint32
	LastScanAt     time.Time
	MessageCount   int
	Status         FolderStatus
}

// Counts summarizes message rows by status, used by report and the
// migrate summary.
type Counts struct {
	Discovered int
	Downloaded int
	Imported   int
	Skipped    int
	Failed     int
}
