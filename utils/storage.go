package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// Set GCS_CREDENTIALS_JSON to pass explicit service-account JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// UploadExport writes data to bucket/objectName and returns a V4 signed GET URL.
func UploadExport(ctx context.Context, bucketName, objectName, contentType string, data []byte, expires time.Duration) (string, time.Time, error) {
	if bucketName == "" {
		return "", time.Time{}, errors.New("export bucket is required")
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	defer client.Close()

	bucket := client.Bucket(bucketName)
	wc := bucket.Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", time.Time{}, fmt.Errorf("write %s: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return "", time.Time{}, fmt.Errorf("close %s: %w", objectName, err)
	}

	expiresAt := time.Now().Add(expires)
	signedURL, err := bucket.SignedURL(objectName, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: expiresAt,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s: %w", objectName, err)
	}
	return signedURL, expiresAt, nil
}
