package database

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	errprocess "transcoding_service/pkg/err"
	"transcoding_service/pkg/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOClientRepo artifact store operations used by the pipeline
type MinIOClientRepo interface {
	UploadFile(ctx context.Context, objectName, filePath, contentType string) error
	Upload(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
	DownloadFile(ctx context.Context, objectName, destPath string) error
	Exists(ctx context.Context, objectName string) (bool, error)
	SignedURL(ctx context.Context, objectName string, expiry time.Duration, downloadName string) (string, error)
}

// MinIOClient definition minio client
type MinIOClient struct {
	Client     *minio.Client
	BucketName string
}

// NewMinIOConnection create a new minio connection have retry
func NewMinIOConnection(d MinIOConnection) (*MinIOClient, error) {
	var mc *MinIOClient
	var err error

	for i := 1; i <= d.RetryCount; i++ {
		mc, err = NewMinioClient(d.Endpoint, d.User, d.Password, d.BucketName, d.UseSSL)
		if err == nil {
			logger.Log.Info("minIO connected", zap.String("endpoint", d.Endpoint), zap.Int("attempt", i))
			return mc, nil
		}

		logger.Log.Warn("minIO connect failed, retrying...",
			zap.String("endpoint", d.Endpoint),
			zap.Int("attempt", i),
			zap.Int("max", d.RetryCount),
			zap.Error(err),
		)
		time.Sleep(d.RetryInterval)
	}

	return mc, err
}

// NewMinioClient create a new minio, bucket is created when missing
func NewMinioClient(endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinIOClient, error) {
	minioClient, err := minio.New(endpoint,
		&minio.Options{
			Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
			Secure: useSSL,
		})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 失敗: %w", err)
	}

	ctx := context.Background()
	exists, err := minioClient.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("檢查 bucket [%s] 失敗: %w", bucketName, err)
	}

	if !exists {
		if err = minioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("建立 bucket [%s] 失敗: %w", bucketName, err)
		}
		logger.Log.Info("bucket created", zap.String("bucket", bucketName))
	}

	return &MinIOClient{
		Client:     minioClient,
		BucketName: bucketName,
	}, nil
}

// UploadFile minio upload local file
func (m *MinIOClient) UploadFile(ctx context.Context, objectName, filePath, contentType string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("開啟檔案失敗: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("讀取檔案資訊失敗: %w", err)
	}
	return m.Upload(ctx, objectName, file, stat.Size(), contentType)
}

// Upload minio upload stream, size -1 when unknown
func (m *MinIOClient) Upload(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := m.Client.PutObject(ctx, m.BucketName, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return errprocess.Wrap(errprocess.KindTransient, "minio.Upload", err, fmt.Sprintf("put object[%s]", objectName))
	}
	return nil
}

// DownloadFile minio download object into destPath
func (m *MinIOClient) DownloadFile(ctx context.Context, objectName, destPath string) error {
	if err := m.Client.FGetObject(ctx, m.BucketName, objectName, destPath, minio.GetObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return errprocess.Wrap(errprocess.KindNotFound, "minio.DownloadFile", err, fmt.Sprintf("object[%s] not found", objectName))
		}
		return errprocess.Wrap(errprocess.KindTransient, "minio.DownloadFile", err, fmt.Sprintf("get object[%s]", objectName))
	}
	return nil
}

// Exists 用 StatObject 檢查 object 是否存在
func (m *MinIOClient) Exists(ctx context.Context, objectName string) (bool, error) {
	_, err := m.Client.StatObject(ctx, m.BucketName, objectName, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, errprocess.Wrap(errprocess.KindTransient, "minio.Exists", err, fmt.Sprintf("stat object[%s]", objectName))
}

// SignedURL 生成附帶下載檔名的 Presigned URL, object 不存在時回傳 NotFound
func (m *MinIOClient) SignedURL(ctx context.Context, objectName string, expiry time.Duration, downloadName string) (string, error) {
	ok, err := m.Exists(ctx, objectName)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errprocess.New(errprocess.KindNotFound, "minio.SignedURL", fmt.Sprintf("object[%s] not found", objectName))
	}

	reqParams := make(url.Values)
	if downloadName != "" {
		reqParams.Set("response-content-disposition", ContentDisposition(downloadName))
	}
	presignedURL, err := m.Client.PresignedGetObject(ctx, m.BucketName, objectName, expiry, reqParams)
	if err != nil {
		return "", errprocess.Wrap(errprocess.KindTransient, "minio.SignedURL", err, "生成 Presigned URL 失敗")
	}
	return presignedURL.String(), nil
}

// ContentDisposition attachment header value for downloadName
func ContentDisposition(downloadName string) string {
	return fmt.Sprintf("attachment; filename=\"%s\"", downloadName)
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
