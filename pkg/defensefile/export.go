package defensefile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	gcs "cloud.google.com/go/storage"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Snapshot is the portable form of a defense file handed to auditors.
type Snapshot struct {
	ProjectID   string           `json:"project_id"`
	ExportedAt  time.Time        `json:"exported_at"`
	Entries     []Entry          `json:"entries"`
	Head        string           `json:"head"`
	Attestation *HeadAttestation `json:"attestation,omitempty"`
}

// Exporter ships a snapshot to an external archive.
type Exporter interface {
	Export(ctx context.Context, snap *Snapshot) (location string, err error)
}

// BuildSnapshot reads and verifies a project's chain, then optionally
// attests its head. A tampered chain is never exported.
func BuildSnapshot(ctx context.Context, log *Log, attestor *Attestor, projectID string) (*Snapshot, error) {
	entries, head, err := log.Read(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := Verify(entries); err != nil {
		return nil, err
	}
	snap := &Snapshot{
		ProjectID:  projectID,
		ExportedAt: time.Now().UTC(),
		Entries:    entries,
		Head:       head,
	}
	if attestor != nil && len(entries) > 0 {
		snap.Attestation, err = attestor.Attest(projectID, entries[len(entries)-1].Sequence, head)
		if err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func snapshotKey(snap *Snapshot) string {
	return fmt.Sprintf("defense-files/%s/%s.json", snap.ProjectID, snap.ExportedAt.Format("20060102T150405Z"))
}

// s3PutAPI is the slice of the S3 client the exporter uses.
type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Exporter archives snapshots in an S3 bucket.
type S3Exporter struct {
	client s3PutAPI
	bucket string
}

func NewS3Exporter(client *s3.Client, bucket string) *S3Exporter {
	return &S3Exporter{client: client, bucket: bucket}
}

// NewS3ExporterFromEnv builds the exporter with the default AWS
// credential chain (env, shared config, instance role).
func NewS3ExporterFromEnv(ctx context.Context, bucket string) (*S3Exporter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("defensefile: load aws config: %w", err)
	}
	return NewS3Exporter(s3.NewFromConfig(cfg), bucket), nil
}

func (e *S3Exporter) Export(ctx context.Context, snap *Snapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("defensefile: marshal snapshot: %w", err)
	}
	key := snapshotKey(snap)
	contentType := "application/json"
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &e.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("defensefile: s3 put: %w", err)
	}
	return "s3://" + e.bucket + "/" + key, nil
}

// GCSExporter archives snapshots in a Cloud Storage bucket.
type GCSExporter struct {
	client *gcs.Client
	bucket string
}

func NewGCSExporter(client *gcs.Client, bucket string) *GCSExporter {
	return &GCSExporter{client: client, bucket: bucket}
}

func (e *GCSExporter) Export(ctx context.Context, snap *Snapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("defensefile: marshal snapshot: %w", err)
	}
	key := snapshotKey(snap)
	w := e.client.Bucket(e.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("defensefile: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("defensefile: gcs close: %w", err)
	}
	return "gs://" + e.bucket + "/" + key, nil
}
