// Пакет s3store — хранение архивов результатов в S3-совместимом хранилище.
// Альтернатива локальному filestore для FA_ARTIFACT_BACKEND=s3.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bigkaa/wfm-allocator/internal/storage/filestore"
)

// API — используемое подмножество клиента S3.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Config — параметры подключения.
type Config struct {
	// Bucket — имя бакета
	Bucket string
	// Region — регион AWS
	Region string
	// Endpoint — адрес S3-совместимого сервиса (MinIO и т.п.), пусто — AWS
	Endpoint string
	// Prefix — префикс ключей внутри бакета
	Prefix string
}

// Store — хранилище архивов в S3.
type Store struct {
	client API
	bucket string
	prefix string
}

// New создаёт Store с клиентом из стандартной цепочки учётных данных AWS.
// Для Endpoint включается path-style адресация.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("загрузка конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient создаёт Store с готовым клиентом.
func NewWithClient(client API, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// Put загружает принятый файл в бакет. Временный файл удаляется после успешной загрузки.
func (s *Store) Put(ctx context.Context, key string, sp *filestore.Spooled) error {
	f, err := os.Open(sp.Path)
	if err != nil {
		return fmt.Errorf("открытие временного файла: %w", err)
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          f,
		ContentLength: aws.Int64(sp.Size),
		ContentType:   aws.String("application/zip"),
		Metadata:      map[string]string{"sha256": sp.Checksum},
	})
	if err != nil {
		return fmt.Errorf("загрузка объекта %s: %w", key, err)
	}

	f.Close()
	sp.Discard()
	return nil
}

// Get открывает объект для чтения и возвращает его размер.
// Отсутствующий объект — filestore.ErrNotExist.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, 0, fmt.Errorf("%w: %s", filestore.ErrNotExist, key)
		}
		return nil, 0, fmt.Errorf("получение объекта %s: %w", key, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Remove удаляет объект. Удаление отсутствующего объекта не является ошибкой.
func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("удаление объекта %s: %w", key, err)
	}
	return nil
}

// Ping проверяет доступность бакета.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("бакет %s недоступен: %w", s.bucket, err)
	}
	return nil
}

func (s *Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// isNotFound распознаёт ответы S3 об отсутствии объекта.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
