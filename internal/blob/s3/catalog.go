package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// Catalog implements domain.ArchiveCatalog over the bucket the Archiver
// writes to. It only reads keys under archive/.
type Catalog struct {
	client *s3.Client
	bucket string
}

// NewCatalog creates a Catalog on the client's configured bucket.
func NewCatalog(c *Client) *Catalog {
	return &Catalog{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// ListArchives returns the monthly files of one archive kind, oldest first.
// Pagination is followed until every object has been collected.
func (c *Catalog) ListArchives(ctx context.Context, kind string) ([]domain.BlobInfo, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	prefix := archivePrefix(kind)

	var infos []domain.BlobInfo
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".jsonl") {
				continue
			}
			info := domain.BlobInfo{
				Path:        key,
				Size:        aws.ToInt64(obj.Size),
				ContentType: "application/x-ndjson",
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// OpenArchive returns the body of one monthly archive file. The caller
// closes it. A missing file is domain.ErrNotFound.
func (c *Catalog) OpenArchive(ctx context.Context, kind, month string) (io.ReadCloser, error) {
	path, err := monthPath(kind, month)
	if err != nil {
		return nil, err
	}
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

func checkKind(kind string) error {
	switch kind {
	case KindLedger, KindAudit:
		return nil
	}
	return fmt.Errorf("%w: unknown archive kind %q", domain.ErrInvalidArgument, kind)
}

// monthPath validates kind and month and returns the object key the
// Archiver used for that month.
func monthPath(kind, month string) (string, error) {
	if err := checkKind(kind); err != nil {
		return "", err
	}
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return "", fmt.Errorf("%w: month must be YYYY-MM", domain.ErrInvalidArgument)
	}
	return archivePath(kind, t), nil
}

// isNotFound reports whether err means the object does not exist. GetObject
// returns NoSuchKey; some S3-compatible providers only answer a bare 404.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	type httpResponseError interface {
		HTTPStatusCode() int
	}
	var httpErr httpResponseError
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusNotFound
}

var _ domain.ArchiveCatalog = (*Catalog)(nil)
