// Package s3 exposes an S3 bucket (or a prefix within one) as a share.
//
// Parameters:
//
//	bucket=name          required
//	region=eu-west-1     optional, SDK default chain otherwise
//	prefix=shares/docs/  optional key prefix
//	endpoint=http://...  optional, for S3-compatible services
//	path_style=true      optional, required by MinIO and Localstack
//	readonly=true        optional
//
// The AWS client is built on the first TreeOpened, so configuring a share
// never touches the network.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/pkg/device"
)

const DriverName = "s3"

// connectTimeout bounds client construction triggered by TreeOpened.
const connectTimeout = 10 * time.Second

// API is the subset of *s3.Client the driver uses.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config is the parsed parameter set of one share.
type Config struct {
	Bucket         string
	Region         string
	Prefix         string
	Endpoint       string
	ForcePathStyle bool
	ReadOnly       bool
}

// ClientFunc builds the API client for a share.
type ClientFunc func(ctx context.Context, cfg Config) (API, error)

// NewClient loads the default AWS configuration and builds an S3 client.
func NewClient(ctx context.Context, cfg Config) (API, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// Device is the s3 driver.
type Device struct {
	newClient ClientFunc
}

// New returns a driver that builds clients with fn, or NewClient when nil.
func New(fn ClientFunc) *Device {
	if fn == nil {
		fn = NewClient
	}
	return &Device{newClient: fn}
}

func Factory(device.Options) device.Device { return New(nil) }

func (d *Device) CreateContext(params string) (device.Context, error) {
	p, err := device.ParseParams(params)
	if err != nil {
		return nil, err
	}
	v := p.Validate(DriverName)
	cfg := Config{
		Bucket:         v.Required("bucket"),
		Region:         v.Optional("region", ""),
		Prefix:         v.Optional("prefix", ""),
		Endpoint:       v.Optional("endpoint", ""),
		ForcePathStyle: v.Bool("path_style", false),
		ReadOnly:       v.Bool("readonly", false),
	}
	if cfg.Bucket != "" {
		v.Check(!strings.ContainsAny(cfg.Bucket, "/ "), "bucket", "%q is not a bucket name", cfg.Bucket)
	}
	if cfg.Endpoint != "" {
		u, err := url.Parse(cfg.Endpoint)
		v.Check(err == nil && u.Scheme != "" && u.Host != "", "endpoint", "%q is not an absolute URL", cfg.Endpoint)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	cfg.Prefix = strings.TrimPrefix(cfg.Prefix, "/")
	if cfg.Prefix != "" && !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}
	return &Context{cfg: cfg, newClient: d.newClient}, nil
}

func (d *Device) TreeOpened(sess device.SessionInfo, tree device.TreeInfo) {
	c, ok := tree.Context.(*Context)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if _, err := c.client(ctx); err != nil {
		logger.Warn("S3 client unavailable", logger.KeyShare, tree.Share, logger.KeyBucket, c.cfg.Bucket,
			logger.KeySessionID, sess.ID, logger.KeyError, err)
		return
	}
	logger.Debug("S3 share opened", logger.KeyShare, tree.Share, logger.KeyBucket, c.cfg.Bucket,
		logger.KeySessionID, sess.ID)
}

func (d *Device) TreeClosed(sess device.SessionInfo, tree device.TreeInfo) {
	logger.Debug("S3 share closed", logger.KeyShare, tree.Share, logger.KeySessionID, sess.ID)
}

// Context is a bucket share. The client is shared by every tree on it.
type Context struct {
	cfg       Config
	newClient ClientFunc

	once   sync.Once
	api    API
	apiErr error
}

func (c *Context) Driver() string { return DriverName }

func (c *Context) Describe() string { return "s3://" + c.cfg.Bucket + "/" + c.cfg.Prefix }

func (c *Context) ReadOnly() bool { return c.cfg.ReadOnly }

// Config returns the parsed share parameters.
func (c *Context) Config() Config { return c.cfg }

func (c *Context) client(ctx context.Context) (API, error) {
	c.once.Do(func() {
		c.api, c.apiErr = c.newClient(ctx, c.cfg)
	})
	if c.apiErr != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrNotReady, c.apiErr)
	}
	return c.api, nil
}

func (c *Context) key(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	return c.cfg.Prefix + strings.TrimPrefix(path.Clean("/"+name), "/")
}

func (c *Context) Open(ctx context.Context, name string, create bool) (device.FileInfo, error) {
	key := c.key(name)
	if key == c.cfg.Prefix {
		return device.FileInfo{Name: name, IsDir: true}, nil
	}
	api, err := c.client(ctx)
	if err != nil {
		return device.FileInfo{}, err
	}

	out, err := api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return device.FileInfo{
			Name:    name,
			Size:    aws.ToInt64(out.ContentLength),
			ModTime: aws.ToTime(out.LastModified),
		}, nil
	}
	if !isNotFound(err) {
		return device.FileInfo{}, fmt.Errorf("s3 head object: %w", err)
	}
	if !create {
		return device.FileInfo{}, fmt.Errorf("%w: %s", device.ErrNotFound, name)
	}
	if c.cfg.ReadOnly {
		return device.FileInfo{}, device.ErrReadOnly
	}

	if _, err := api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(nil),
	}); err != nil {
		return device.FileInfo{}, fmt.Errorf("s3 put object: %w", err)
	}
	return device.FileInfo{Name: name, ModTime: time.Now()}, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "NotFound") || strings.Contains(s, "NoSuchKey") || strings.Contains(s, "404")
}
