package store

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	raven "github.com/getsentry/raven-go"
)

// S3 is a store kept in an S3 bucket, for deployments where several proxy
// instances share one asset cache. Do not change Bucket or Prefix while
// calls using the store are in flight.
type S3 struct {
	svc      *s3.S3
	uploader *s3manager.Uploader
	Bucket   string
	Prefix   string
}

var _ Store = &S3{}

// NewS3 creates a store using the given bucket. prefix is prepended to every
// key, so one bucket can hold more than one store. The credentials in the
// session are used for all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		svc:      s3.New(awsSession),
		uploader: s3manager.NewUploader(awsSession),
		Bucket:   bucket,
		Prefix:   prefix,
	}
}

// List returns every key in this store, restricted to the store's Prefix.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(s.Bucket),
			Prefix: aws.String(s.Prefix),
		}
		err := s.svc.ListObjectsV2Pages(input,
			func(page *s3.ListObjectsV2Output, lastpage bool) bool {
				for _, item := range page.Contents {
					out <- strings.TrimPrefix(*item.Key, s.Prefix)
				}
				return !lastpage
			})
		if err != nil {
			log.Println("S3 List:", s.Prefix, err)
			raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix})
		}
	}()
	return out
}

// ListPrefix returns the keys in this store beginning with the given prefix.
func (s *S3) ListPrefix(prefix string) ([]string, error) {
	var result []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + prefix),
	}
	err := s.svc.ListObjectsV2Pages(input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				result = append(result, strings.TrimPrefix(*item.Key, s.Prefix))
			}
			return !lastpage
		})
	if err != nil {
		log.Println("S3 ListPrefix:", s.Prefix, prefix, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix})
	}
	return result, err
}

// Open returns a reader for the content of the given key. Each ReadAt is
// translated into a ranged GET, so sequential consumers should wrap the
// result with NewReader and a bufio.Reader.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	size, err := s.stat(key)
	if err != nil {
		return nil, 0, err
	}
	return &s3ReadAtCloser{
		svc:    s.svc,
		bucket: s.Bucket,
		key:    s.Prefix + key,
		size:   size,
	}, size, nil
}

// stat returns the size of the given key, or ErrNotFound.
func (s *S3) stat(key string) (int64, error) {
	info, err := s.svc.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.RequestFailure); ok && aerr.StatusCode() == 404 {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return *info.ContentLength, nil
}

// Create returns a writer for saving content under the given key. The data
// is streamed to S3 through a pipe as it is written; Close waits for the
// upload to finish.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	if _, err := s.stat(key); err == nil {
		return nil, ErrKeyExists
	}
	pr, pw := io.Pipe()
	w := &s3WriteCloser{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := s.uploader.Upload(&s3manager.UploadInput{
			Bucket: aws.String(s.Bucket),
			Key:    aws.String(s.Prefix + key),
			Body:   pr,
		})
		if err != nil {
			pr.CloseWithError(err)
		}
		w.done <- err
	}()
	return w, nil
}

// Delete removes the given key. It is not an error if the key does not exist.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	return err
}

type s3ReadAtCloser struct {
	svc    *s3.S3
	bucket string
	key    string
	size   int64
}

func (r *s3ReadAtCloser) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	end := off + int64(len(p)) - 1
	if end >= r.size {
		end = r.size - 1
	}
	out, err := r.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, err
	}
	defer out.Body.Close()
	n, err := io.ReadFull(out.Body, p[:end-off+1])
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	if err == nil && end == r.size-1 && int64(n) == end-off+1 {
		// nothing more to read
		if int64(len(p)) > end-off+1 {
			err = io.EOF
		}
	}
	return n, err
}

func (r *s3ReadAtCloser) Close() error { return nil }

type s3WriteCloser struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *s3WriteCloser) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *s3WriteCloser) Close() error {
	w.pw.Close()
	return <-w.done
}
