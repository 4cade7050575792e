package archive

import "time"

// TranscriptRecord is a rendered case transcript captured at the end of an
// interaction.
type TranscriptRecord struct {
	CaseID     string    `json:"case_id"`
	SessionID  string    `json:"session_id"`
	HTML       string    `json:"-"`
	ArchivedAt time.Time `json:"archived_at"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	CaseID     string `json:"case_id"`
	SessionID  string `json:"session_id"`
	S3Key      string `json:"s3_key"`
	ArchivedAt string `json:"archived_at"`
	Bytes      int    `json:"bytes"`
}
