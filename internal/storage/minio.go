package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"staffHub/internal/config"
)

// Client 封装 MinIO 客户端，镜像后端通过它读写对象。
type Client struct {
	internalClient *minio.Client
	publicClient   *minio.Client
	bucketName     string
	publicBase     *url.URL
}

// ObjectMeta 描述 Bucket 中对象的关键信息。
type ObjectMeta struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	IsPrefix     bool
}

// NewClient 根据配置初始化 MinIO 客户端，并确保目标 Bucket 存在。
func NewClient(ctx context.Context, cfg config.MinIOConfig) (*Client, error) {
	bucketLookup := minio.BucketLookupAuto
	switch strings.ToLower(strings.TrimSpace(cfg.BucketLookup)) {
	case "", "auto":
		bucketLookup = minio.BucketLookupAuto
	case "dns":
		bucketLookup = minio.BucketLookupDNS
	case "path":
		bucketLookup = minio.BucketLookupPath
	default:
		return nil, fmt.Errorf("invalid minio bucket lookup %q", cfg.BucketLookup)
	}

	internalClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: bucketLookup,
	})
	if err != nil {
		return nil, fmt.Errorf("init internal minio client: %w", err)
	}

	publicEndpoint := cfg.PublicEndpoint
	if strings.TrimSpace(publicEndpoint) == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicEndpoint = scheme + "://" + cfg.Endpoint
	}
	parsedPublicEndpoint, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse minio public endpoint: %w", err)
	}
	if parsedPublicEndpoint.Host == "" {
		return nil, fmt.Errorf("invalid minio public endpoint, host missing")
	}

	publicClient, err := minio.New(parsedPublicEndpoint.Host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       parsedPublicEndpoint.Scheme == "https",
		Region:       cfg.Region,
		BucketLookup: bucketLookup,
	})
	if err != nil {
		return nil, fmt.Errorf("init public minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := internalClient.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if !cfg.AutoCreateBucket {
			return nil, fmt.Errorf("bucket %q does not exist (auto create disabled)", cfg.Bucket)
		}
		if err := internalClient.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("make bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &Client{
		internalClient: internalClient,
		publicClient:   publicClient,
		bucketName:     cfg.Bucket,
		publicBase:     parsedPublicEndpoint,
	}, nil
}

// Bucket 返回目标 Bucket 名称。
func (c *Client) Bucket() string { return c.bucketName }

// UploadFile 上传对象并返回上传结果。
func (c *Client) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	info, err := c.internalClient.PutObject(ctx, c.bucketName, objectName, reader, size, opts)
	if err != nil {
		return nil, fmt.Errorf("put object %q: %w", objectName, err)
	}
	return &info, nil
}

// PutMarker 写入零字节的目录标记对象，key 以 / 结尾。
func (c *Client) PutMarker(ctx context.Context, prefix string) error {
	key := strings.TrimSuffix(prefix, "/") + "/"
	_, err := c.internalClient.PutObject(ctx, c.bucketName, key, bytes.NewReader(nil), 0, minio.PutObjectOptions{
		ContentType: "application/x-directory",
	})
	if err != nil {
		return fmt.Errorf("put marker %q: %w", key, err)
	}
	return nil
}

// StatObject 返回对象元数据；对象不存在时返回的错误满足 IsNoSuchKey。
func (c *Client) StatObject(ctx context.Context, objectKey string) (ObjectMeta, error) {
	info, err := c.internalClient.StatObject(ctx, c.bucketName, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("stat object %q: %w", objectKey, err)
	}
	return ObjectMeta{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// GetObject 直接读取 Bucket 中的对象。
func (c *Client) GetObject(ctx context.Context, objectKey string) (*minio.Object, error) {
	obj, err := c.internalClient.GetObject(ctx, c.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", objectKey, err)
	}
	return obj, nil
}

// PublicURL 返回对象的匿名访问地址，需配合 GrantPublicRead 使用。
func (c *Client) PublicURL(objectKey string) string {
	u := *c.publicBase
	u.Path = path.Join("/", u.Path, c.bucketName, objectKey)
	return u.String()
}

// GeneratePresignedURLWithParams 生成带自定义响应参数的限时下载链接。
func (c *Client) GeneratePresignedURLWithParams(ctx context.Context, objectKey string, duration time.Duration, params map[string]string) (string, error) {
	var v url.Values
	if params != nil {
		v = url.Values{}
		for k, val := range params {
			v.Set(k, val)
		}
	}
	presignedURL, err := c.publicClient.PresignedGetObject(ctx, c.bucketName, objectKey, duration, v)
	if err != nil {
		return "", fmt.Errorf("generate presigned url with params for %q: %w", objectKey, err)
	}
	return presignedURL.String(), nil
}

// ListObjects 列出前缀下的对象。recursive 为 false 时只列一层，子目录以 IsPrefix 标出。
func (c *Client) ListObjects(ctx context.Context, prefix string, recursive bool, limit int) ([]ObjectMeta, error) {
	if limit <= 0 {
		limit = 1000
	}
	objCh := c.internalClient.ListObjects(ctx, c.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	})
	result := make([]ObjectMeta, 0, 16)
	for object := range objCh {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects under %q: %w", prefix, object.Err)
		}
		if object.Key == prefix {
			continue
		}
		result = append(result, ObjectMeta{
			Key:          object.Key,
			Size:         object.Size,
			ContentType:  object.ContentType,
			LastModified: object.LastModified,
			IsPrefix:     strings.HasSuffix(object.Key, "/"),
		})
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// DeleteObject 删除指定对象。
// 若对象不存在会被视为成功（幂等）。
func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return nil
	}
	if err := c.internalClient.RemoveObject(ctx, c.bucketName, objectKey, minio.RemoveObjectOptions{}); err != nil {
		if IsNoSuchKey(err) {
			return nil
		}
		return fmt.Errorf("remove object %q: %w", objectKey, err)
	}
	return nil
}

// DeletePrefix 删除指定前缀下的所有对象。
// 若某些对象已不存在会被忽略；其余错误会聚合返回。
func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil
	}

	objects, err := c.ListObjects(ctx, prefix, true, 100000)
	if err != nil {
		return err
	}

	var errs []error
	for _, obj := range objects {
		if err := c.DeleteObject(ctx, obj.Key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.DeleteObject(ctx, prefix); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 1 {
		slog.Default().Error("delete minio objects under prefix failed",
			slog.String("prefix", prefix),
			slog.Int("failed_count", len(errs)),
		)
	}
	return errors.Join(errs...)
}

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string         `json:"Sid,omitempty"`
	Effect    string         `json:"Effect"`
	Principal map[string]any `json:"Principal"`
	Action    []string       `json:"Action"`
	Resource  []string       `json:"Resource"`
}

const publicReadSid = "PublicRead"

// GrantPublicRead 将资源加入 Bucket 策略的匿名 s3:GetObject 授权。
// resource 可以是对象 key，也可以是以 /* 结尾的前缀。
func (c *Client) GrantPublicRead(ctx context.Context, resource string) error {
	raw, err := c.internalClient.GetBucketPolicy(ctx, c.bucketName)
	if err != nil && !isNoSuchPolicy(err) {
		return fmt.Errorf("get bucket policy: %w", err)
	}

	updated, changed, err := addPublicRead(raw, c.bucketName, resource)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := c.internalClient.SetBucketPolicy(ctx, c.bucketName, updated); err != nil {
		return fmt.Errorf("set bucket policy: %w", err)
	}
	return nil
}

func addPublicRead(raw, bucket, resource string) (string, bool, error) {
	policy := bucketPolicy{Version: "2012-10-17"}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &policy); err != nil {
			return "", false, fmt.Errorf("decode bucket policy: %w", err)
		}
	}

	arn := "arn:aws:s3:::" + bucket + "/" + resource
	idx := -1
	for i, st := range policy.Statement {
		if st.Sid == publicReadSid {
			idx = i
			break
		}
	}
	if idx < 0 {
		policy.Statement = append(policy.Statement, policyStatement{
			Sid:       publicReadSid,
			Effect:    "Allow",
			Principal: map[string]any{"AWS": []string{"*"}},
			Action:    []string{"s3:GetObject"},
		})
		idx = len(policy.Statement) - 1
	}
	st := &policy.Statement[idx]
	for _, existing := range st.Resource {
		if existing == arn || (strings.HasSuffix(existing, "/*") && strings.HasPrefix(arn, strings.TrimSuffix(existing, "*"))) {
			return raw, false, nil
		}
	}
	st.Resource = append(st.Resource, arn)
	slices.Sort(st.Resource)

	out, err := json.Marshal(policy)
	if err != nil {
		return "", false, fmt.Errorf("encode bucket policy: %w", err)
	}
	return string(out), true, nil
}
