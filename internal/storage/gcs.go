package storage

import (
	"context"

	"gocloud.dev/blob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/gcp"
	"golang.org/x/oauth2/google"
)

type gcs struct {
	ctx    context.Context
	bucket *blob.Bucket
}

func NewGCS(ctx context.Context, bucketName string) (Bucket, error) {
	creds, err := google.FindDefaultCredentials(ctx)

	if err != nil {
		return nil, err
	}

	client, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))

	if err != nil {
		return nil, err
	}

	bucket, err := gcsblob.OpenBucket(ctx, client, bucketName, nil)

	if err != nil {
		return nil, err
	}

	return &gcs{ctx: ctx, bucket: bucket}, nil
}

func (g *gcs) Get(key string) (data []byte, err error) {
	return g.bucket.ReadAll(g.ctx, key)
}

func (g *gcs) Store(key string, data []byte) error {
	return g.bucket.WriteAll(g.ctx, key, data, nil)
}

func (g *gcs) Delete(key string) error {
	return g.bucket.Delete(g.ctx, key)
}
