package s3

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Object is a stored blob opened for reading.
type Object interface {
	io.ReadCloser
	ContentLength() int64
	ContentType() string
}

type object struct {
	io.ReadCloser
	contentLength int64
	contentType   string
}

func (o *object) ContentLength() int64 {
	return o.contentLength
}

func (o *object) ContentType() string {
	return o.contentType
}

// Storage is the object store adapter contract. Authorization is delegated
// entirely to key namespacing plus the gateway's own checks: the adapter
// always runs with a service credential, the bucket's per-object ACLs are
// not the security boundary.
type Storage interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	Sign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// S3API is the subset of the SDK client the adapter uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Presigner issues pre-authorized GET URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (string, error)
}

// DefaultSignTTL is the lifetime of an issued playback/export URL.
const DefaultSignTTL = time.Hour

// ObjectKey builds the deterministic, account-namespaced key for a blob:
// accountID/containerID/subContainer/filename. Everything an account owns
// lives under its own prefix, so cross-account collisions are impossible
// and bulk account removal is a prefix delete.
func ObjectKey(accountID, containerID, subContainer, filename string) string {
	return fmt.Sprintf("%s/%s/%s/%s", accountID, containerID, subContainer, filename)
}
