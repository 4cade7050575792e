package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte
	getErr   error
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{bucket: *input.Bucket, key: *input.Key, body: body})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestStore_ArchiveTranscript(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)
	now := time.Date(2026, 2, 12, 15, 0, 0, 0, time.UTC)

	err := store.ArchiveTranscript(context.Background(), TranscriptRecord{
		CaseID:     "500CASE",
		SessionID:  "abc-123",
		HTML:       "<p>Customer: hello</p>",
		ArchivedAt: now,
	})
	require.NoError(t, err)

	// transcript + manifest
	require.Len(t, mock.putCalls, 2)
	assert.Equal(t, "test-bucket", mock.putCalls[0].bucket)
	assert.Equal(t, "transcripts/v1/cases/500CASE/abc-123.html", mock.putCalls[0].key)
	assert.Equal(t, "<p>Customer: hello</p>", string(mock.putCalls[0].body))

	assert.Equal(t, "transcripts/v1/manifests/2026-02.jsonl", mock.putCalls[1].key)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(mock.putCalls[1].body), &entry))
	assert.Equal(t, "500CASE", entry.CaseID)
	assert.Equal(t, "2026-02-12T15:00:00Z", entry.ArchivedAt)
}

func TestStore_ArchiveTranscriptScrubs(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil, WithScrubbing(true))

	require.NoError(t, store.ArchiveTranscript(context.Background(), TranscriptRecord{
		CaseID:    "500CASE",
		SessionID: "abc-123",
		HTML:      "<p>Customer: write to me at jane@example.com</p>",
	}))
	assert.Equal(t, "<p>Customer: write to me at [EMAIL]</p>", string(mock.putCalls[0].body))
}

func TestStore_ArchiveTranscriptRequiresIDs(t *testing.T) {
	store := NewStore(newMockS3(), "test-bucket", nil)
	require.Error(t, store.ArchiveTranscript(context.Background(), TranscriptRecord{SessionID: "abc"}))
}

func TestStore_Disabled(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())

	assert.NoError(t, store.ArchiveTranscript(context.Background(), TranscriptRecord{}))
	_, err := store.FetchTranscript(context.Background(), "500CASE", "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_FetchTranscript(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)
	mock.objects[TranscriptKey("500CASE", "abc-123")] = []byte("<p>Bot: hi</p>")

	got, err := store.FetchTranscript(context.Background(), "500CASE", "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "<p>Bot: hi</p>", got)

	_, err = store.FetchTranscript(context.Background(), "500CASE", "other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ManifestAppend(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)
	at := time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{CaseID: "c-1"}, at))
	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{CaseID: "c-2"}, at))

	lastPut := mock.putCalls[len(mock.putCalls)-1]
	lines := bytes.Split(bytes.TrimSpace(lastPut.body), []byte("\n"))
	assert.Len(t, lines, 2)
}

func TestStore_ManifestReadFailure(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("access denied")
	store := NewStore(mock, "test-bucket", nil)

	err := store.AppendManifest(context.Background(), ManifestEntry{CaseID: "c-1"}, time.Now())
	require.Error(t, err)
	assert.Empty(t, mock.putCalls)
}
