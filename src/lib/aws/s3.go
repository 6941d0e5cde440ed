package aws

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// QRCodeBucket stores generated payment QR codes and hands out short-lived
// download links.
type QRCodeBucket struct {
	client  s3API
	presign s3Presigner
	bucket  string
	prefix  string
	expires time.Duration
}

func NewQRCodeBucket(client *s3.Client, bucket string, expires time.Duration) *QRCodeBucket {
	return &QRCodeBucket{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		prefix:  "qrcodes/",
		expires: expires,
	}
}

// Upload puts the PNG at filePath under name and returns a presigned GET URL.
func (b *QRCodeBucket) Upload(ctx context.Context, name string, filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		log.Printf("Could not open file to upload: %s\n", err.Error())
		return "", err
	}
	defer file.Close()

	key := fmt.Sprintf("%s%s.png", b.prefix, name)
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		log.Printf("Could not put object to S3 bucket: %s\n", err.Error())
		return "", err
	}
	r, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		po.Expires = b.expires
	})
	if err != nil {
		log.Printf("Could not generate presigned URL for object [%s]: %s\n", key, err.Error())
		return "", err
	}
	return r.URL, nil
}
