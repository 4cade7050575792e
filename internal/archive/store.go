package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

// ErrNotFound is returned when no archived transcript exists.
var ErrNotFound = errors.New("archive: transcript not found")

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store archives case transcripts to S3.
type Store struct {
	bucket   string
	s3Client S3API
	scrub    bool
	logger   *logging.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithScrubbing removes emails and phone numbers from archived copies.
func WithScrubbing(enabled bool) Option {
	return func(s *Store) {
		s.scrub = enabled
	}
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{bucket: bucket, s3Client: s3Client, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// TranscriptKey is the object key of a session's transcript for a case.
func TranscriptKey(caseID, sessionID string) string {
	return fmt.Sprintf("transcripts/v1/cases/%s/%s.html", caseID, sessionID)
}

// ArchiveTranscript writes the transcript and appends it to the manifest.
func (s *Store) ArchiveTranscript(ctx context.Context, record TranscriptRecord) error {
	if !s.Enabled() {
		return nil
	}
	if record.CaseID == "" || record.SessionID == "" {
		return fmt.Errorf("archive: case id and session id are required")
	}

	body := record.HTML
	if s.scrub {
		body = ScrubPII(body)
	}
	now := record.ArchivedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	key := TranscriptKey(record.CaseID, record.SessionID)
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(body)),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	s.logger.Info("archived transcript to S3", "case_id", record.CaseID, "session_id", record.SessionID, "s3_key", key)

	entry := ManifestEntry{
		CaseID:     record.CaseID,
		SessionID:  record.SessionID,
		S3Key:      key,
		ArchivedAt: now.Format(time.RFC3339),
		Bytes:      len(body),
	}
	if err := s.AppendManifest(ctx, entry, now); err != nil {
		// The transcript itself is stored.
		s.logger.Warn("failed to append manifest", "error", err, "case_id", record.CaseID)
	}
	return nil
}

// FetchTranscript reads an archived transcript.
func (s *Store) FetchTranscript(ctx context.Context, caseID, sessionID string) (string, error) {
	if !s.Enabled() {
		return "", ErrNotFound
	}
	key := TranscriptKey(caseID, sessionID)
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("archive: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("archive: read %s: %w", key, err)
	}
	return string(data), nil
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// S3 has no append, so this is a read-modify-write.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry, at time.Time) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}
	manifestKey := fmt.Sprintf("transcripts/v1/manifests/%d-%02d.jsonl", at.Year(), at.Month())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(getResp.Body)
		getResp.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFound(err):
		s.logger.Debug("manifest not found, creating new", "key", manifestKey)
	default:
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	return errors.As(err, &nf)
}
