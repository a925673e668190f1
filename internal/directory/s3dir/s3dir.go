package s3dir

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"chainmail/internal/domain"
	"chainmail/internal/protocol/wire"
)

const contentType = "application/cbor"

// Config holds the bucket location and optional static credentials.
// Endpoint selects an S3-compatible service such as MinIO.
type Config struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// API is the subset of the S3 client the directory needs.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewClient builds an S3 client from cfg and the default AWS credential
// chain.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Directory implements domain.PackageDirectory on a bucket.
type Directory struct {
	api    API
	bucket string
}

func New(api API, bucket string) *Directory {
	return &Directory{api: api, bucket: bucket}
}

func objectKey(addr domain.Address) string {
	return "prekeys/" + url.PathEscape(addr.String()) + ".cbor"
}

func (d *Directory) Publish(ctx context.Context, addr domain.Address, pkg domain.PreKeyPackage) error {
	body, err := wire.EncodePackage(pkg)
	if err != nil {
		return err
	}
	_, err = d.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(objectKey(addr)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return domain.E(domain.KindTransport, "s3dir.Publish", err)
	}
	return nil
}

func (d *Directory) Fetch(ctx context.Context, addr domain.Address) (domain.PreKeyPackage, error) {
	out, err := d.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(objectKey(addr)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return domain.PreKeyPackage{}, fmt.Errorf("package %s: %w", addr, domain.ErrNotFound)
		}
		return domain.PreKeyPackage{}, domain.E(domain.KindTransport, "s3dir.Fetch", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return domain.PreKeyPackage{}, domain.E(domain.KindTransport, "s3dir.Fetch", err)
	}
	return wire.DecodePackage(body)
}

var _ domain.PackageDirectory = (*Directory)(nil)
