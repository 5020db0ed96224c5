package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client abstracts the S3 API operations used by [S3].
// The [s3.Client] type satisfies this interface.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// dirMarker is the zero-byte object that stands for an explicit directory.
const dirMarker = ".dir"

// S3 implements Provider on an S3-compatible object store (AWS, MinIO,
// R2). Objects are whole-body, which matches the rewrite-entire model of
// the line engine: every write handle uploads on Close. Rename is
// copy-then-delete and therefore not atomic.
type S3 struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 creates an S3-backed Provider. Prefix is prepended to all object
// keys; pass "" for no prefix.
func NewS3(client S3Client, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// S3Options configures NewS3FromConfig.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // custom endpoint for S3-compatible stores; path-style addressing is used
}

// NewS3FromConfig builds a client from the default AWS credential chain.
func NewS3FromConfig(ctx context.Context, opts S3Options) (*S3, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3(client, opts.Bucket, opts.Prefix), nil
}

func (s *S3) key(p string) string {
	p = clean(p)
	if s.prefix == "" {
		return p
	}
	if p == "" {
		return s.prefix
	}
	return s.prefix + "/" + p
}

// dirPrefix returns the listing prefix for directory p, ending in "/" unless
// it names the bucket root.
func (s *S3) dirPrefix(p string) string {
	k := s.key(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

func (s *S3) rel(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/")
}

// Open returns a handle. Read handles stream the object body; write and
// append handles stream into a background PutObject through an io.Pipe.
func (s *S3) Open(ctx context.Context, p string, mode Mode) (File, error) {
	if s.isDir(ctx, p) {
		return nil, fmt.Errorf("storage: open %s: %w", p, ErrIsDirectory)
	}
	switch mode {
	case ModeRead:
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(p)),
		})
		if err != nil {
			if isS3NotFound(err) {
				return nil, fmt.Errorf("storage: open %s: %w", p, ErrNotExist)
			}
			return nil, fmt.Errorf("storage: open %s: %w", p, err)
		}
		return &s3Reader{body: out.Body}, nil
	case ModeWrite, ModeAppend:
		var existing []byte
		if mode == ModeAppend {
			data, err := s.readAll(ctx, p)
			if err != nil && !IsNotExist(err) {
				return nil, err
			}
			existing = data
		}
		return s.writer(ctx, p, existing), nil
	}
	return nil, fmt.Errorf("storage: open %s: unsupported mode %d", p, mode)
}

func (s *S3) readAll(ctx context.Context, p string) ([]byte, error) {
	f, err := s.Open(ctx, p, ModeRead)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *S3) writer(ctx context.Context, p string, head []byte) *s3Writer {
	pr, pw := io.Pipe()
	w := &s3Writer{pw: pw, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		_, w.uploadErr = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(p)),
			Body:   io.MultiReader(bytes.NewReader(head), pr),
		})
		// Unblock pending writes if the upload failed early.
		pr.CloseWithError(w.uploadErr)
	}()
	return w
}

// Stat describes p using HeadObject, falling back to a directory probe.
func (s *S3) Stat(ctx context.Context, p string) (Info, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err == nil {
		return Info{
			Name:    path.Base(clean(p)),
			Path:    clean(p),
			Size:    aws.ToInt64(out.ContentLength),
			Version: aws.ToString(out.ETag),
		}, nil
	}
	if !isS3NotFound(err) {
		return Info{}, fmt.Errorf("storage: stat %s: %w", p, err)
	}
	if s.isDir(ctx, p) {
		return Info{Name: path.Base(clean(p)), Path: clean(p), IsDir: true}, nil
	}
	return Info{}, fmt.Errorf("storage: stat %s: %w", p, ErrNotExist)
}

// isDir reports whether any object lives under p/.
func (s *S3) isDir(ctx context.Context, p string) bool {
	if clean(p) == "" {
		return true
	}
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.dirPrefix(p)),
		MaxKeys: aws.Int32(1),
	})
	return err == nil && len(out.Contents) > 0
}

// Exists reports whether p names an object or a directory.
func (s *S3) Exists(ctx context.Context, p string) bool {
	_, err := s.Stat(ctx, p)
	return err == nil
}

// Remove deletes the object at p.
func (s *S3) Remove(ctx context.Context, p string) error {
	if !s.Exists(ctx, p) {
		return fmt.Errorf("storage: remove %s: %w", p, ErrNotExist)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return fmt.Errorf("storage: remove %s: %w", p, err)
	}
	return nil
}

// Rename copies oldPath to newPath, then deletes oldPath.
func (s *S3) Rename(ctx context.Context, oldPath, newPath string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + s.key(oldPath)),
		Key:        aws.String(s.key(newPath)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("storage: rename %s: %w", oldPath, ErrNotExist)
		}
		return fmt.Errorf("storage: rename: %w", err)
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(oldPath)),
	})
	if err != nil {
		return fmt.Errorf("storage: rename: delete source: %w", err)
	}
	return nil
}

// Mkdir writes a directory marker object.
func (s *S3) Mkdir(ctx context.Context, p string) error {
	if clean(p) == "" {
		return nil
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.dirPrefix(p) + dirMarker),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", p, err)
	}
	return nil
}

// ReadDir lists direct children using a delimited listing.
func (s *S3) ReadDir(ctx context.Context, p string) ([]Info, error) {
	prefix := s.dirPrefix(p)
	var out []Info
	var token *string
	found := clean(p) == ""
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("storage: readdir %s: %w", p, err)
		}
		for _, cp := range page.CommonPrefixes {
			found = true
			rel := strings.TrimSuffix(s.rel(aws.ToString(cp.Prefix)), "/")
			out = append(out, Info{Name: path.Base(rel), Path: rel, IsDir: true})
		}
		for _, obj := range page.Contents {
			found = true
			rel := s.rel(aws.ToString(obj.Key))
			if path.Base(rel) == dirMarker {
				continue
			}
			out = append(out, Info{Name: path.Base(rel), Path: rel, Size: aws.ToInt64(obj.Size)})
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}
	if !found {
		return nil, fmt.Errorf("storage: readdir %s: %w", p, ErrNotExist)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RemoveDir deletes the directory marker of an otherwise empty directory.
func (s *S3) RemoveDir(ctx context.Context, p string) error {
	if clean(p) == "" {
		return fmt.Errorf("storage: refusing to remove root")
	}
	entries, err := s.ReadDir(ctx, p)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("storage: rmdir %s: directory not empty", p)
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.dirPrefix(p) + dirMarker),
	})
	if err != nil {
		return fmt.Errorf("storage: rmdir %s: %w", p, err)
	}
	return nil
}

// Usage sums object sizes under the prefix. Object stores have no fixed
// capacity, so TotalBytes stays zero.
func (s *S3) Usage(ctx context.Context) (Usage, error) {
	var used uint64
	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.dirPrefix("")),
			ContinuationToken: token,
		})
		if err != nil {
			return Usage{}, fmt.Errorf("storage: usage: %w", err)
		}
		for _, obj := range page.Contents {
			used += uint64(aws.ToInt64(obj.Size))
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}
	return Usage{UsedBytes: used, MaxPathLength: 1024}, nil
}

// s3Reader adapts an object body to File.
type s3Reader struct {
	body io.ReadCloser
}

func (r *s3Reader) Read(p []byte) (int, error) { return r.body.Read(p) }
func (r *s3Reader) Write([]byte) (int, error) {
	return 0, fmt.Errorf("storage: file not open for writing")
}
func (r *s3Reader) Close() error { return r.body.Close() }

// s3Writer streams data to a background PutObject call through an io.Pipe.
type s3Writer struct {
	pw        *io.PipeWriter
	done      chan struct{}
	uploadErr error
}

func (w *s3Writer) Read([]byte) (int, error) {
	return 0, fmt.Errorf("storage: file not open for reading")
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close signals EOF to the PutObject reader, waits for the upload to
// complete, and returns the upload error (if any).
func (w *s3Writer) Close() error {
	_ = w.pw.Close()
	<-w.done
	return w.uploadErr
}

// isS3NotFound reports whether err indicates the S3 object does not exist.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

var _ Provider = (*S3)(nil)
