package transport

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/yourusername/account-backup-manager/internal/destination"
)

// S3Transport stores archives in AWS S3 or S3-compatible storage
type S3Transport struct {
	dest     *destination.Destination
	bucket   string
	s3Client *s3.S3
}

// NewS3Transport creates a new S3 transport
func NewS3Transport(dest *destination.Destination) (*S3Transport, error) {
	creds := dest.Credentials

	awsConfig := &aws.Config{
		Region: aws.String(creds["region"]),
		Credentials: credentials.NewStaticCredentials(
			creds["access_key"],
			creds["secret_key"],
			"",
		),
	}

	// Custom endpoint for S3-compatible storage (MinIO, DigitalOcean Spaces, etc.)
	if endpoint := creds["endpoint"]; endpoint != "" {
		awsConfig.Endpoint = aws.String(endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	st := &S3Transport{
		dest:     dest,
		bucket:   creds["bucket"],
		s3Client: s3.New(sess),
	}

	log.Printf("[S3Transport] Initialized S3 transport: bucket=%s, region=%s",
		st.bucket, creds["region"])

	return st, nil
}

func (st *S3Transport) resolve(key string) string {
	return strings.TrimPrefix(resolveKey(st.dest.Path, key), "/")
}

// Upload uploads a local file to S3
func (st *S3Transport) Upload(localPath, remoteKey string) error {
	key := st.resolve(remoteKey)
	log.Printf("[S3Transport] Uploading %s to s3://%s/%s", localPath, st.bucket, key)

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat local file: %w", err)
	}

	_, err = st.s3Client.PutObject(&s3.PutObjectInput{
		Bucket:        aws.String(st.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/gzip"),
		StorageClass:  aws.String("STANDARD"),
	})

	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	return nil
}

// Download downloads a file from S3 to a local path
func (st *S3Transport) Download(remoteKey, localPath string) error {
	key := st.resolve(remoteKey)
	log.Printf("[S3Transport] Downloading s3://%s/%s to %s", st.bucket, key, localPath)

	result, err := st.s3Client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		return fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0700); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	dst, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer dst.Close()

	if _, err := dst.ReadFrom(result.Body); err != nil {
		return fmt.Errorf("failed to read S3 object: %w", err)
	}

	return nil
}

// List returns the objects under a key prefix
func (st *S3Transport) List(p string) ([]Entry, error) {
	prefix := st.resolve(p)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	result, err := st.s3Client.ListObjectsV2(&s3.ListObjectsV2Input{
		Bucket: aws.String(st.bucket),
		Prefix: aws.String(prefix),
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}

	var files []Entry
	for _, obj := range result.Contents {
		if *obj.Key == prefix {
			continue
		}

		files = append(files, Entry{
			Name:      path.Base(*obj.Key),
			SizeBytes: *obj.Size,
			ModTime:   obj.LastModified.Unix(),
		})
	}

	return files, nil
}

// Delete removes an object from S3
func (st *S3Transport) Delete(p string) error {
	key := st.resolve(p)
	log.Printf("[S3Transport] Deleting s3://%s/%s", st.bucket, key)

	_, err := st.s3Client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}

	return nil
}

// Exists reports whether an object exists in S3
func (st *S3Transport) Exists(p string) (bool, error) {
	_, err := st.s3Client.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(st.resolve(p)),
	})
	if err == nil {
		return true, nil
	}

	if aerr, ok := err.(awserr.RequestFailure); ok && aerr.StatusCode() == 404 {
		return false, nil
	}

	return false, err
}

// Mkdir is a no-op for S3: object keys need no directories
func (st *S3Transport) Mkdir(p string) error {
	return nil
}
