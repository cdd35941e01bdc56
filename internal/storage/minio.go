package storage

import (
	"FetchVault/config"
	"context"
	"fmt"
	"log"
	"os"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOStorage struct {
	Client *minio.Client
	Bucket string
}

var Minio *MinIOStorage

// InitMinio initializes the MinIO client used for archiving completed
// files. Only called when ARCHIVE_ENABLE is set.
func InitMinio() {
	client, err := minio.New(fmt.Sprintf("%s:%s", config.AppConfig.MinioHost, config.AppConfig.MinioPort), &minio.Options{
		Creds:  credentials.NewStaticV4(config.AppConfig.MinioUsername, config.AppConfig.MinioPassword, ""),
		Secure: false,
	})
	if err != nil {
		log.Fatalln("minio error:", err)
	}
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, config.AppConfig.BucketName)
	if err != nil {
		log.Fatalln("check bucket fail:", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.AppConfig.BucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatalln("create bucket fail:", err)
		}
	}
	Minio = &MinIOStorage{
		Client: client,
		Bucket: config.AppConfig.BucketName,
	}
}

// ArchiveFile uploads a completed download to the archive bucket under
// <taskID>/<name>. Best effort: the caller logs failures and moves on.
func ArchiveFile(ctx context.Context, taskID, localPath, name string) error {
	if Minio == nil {
		return fmt.Errorf("minio not initialized")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return err
	}
	object := path.Join(taskID, name)
	_, err = Minio.Client.PutObject(ctx, Minio.Bucket, object, f, stat.Size(), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}
