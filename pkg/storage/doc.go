// Package storage provides signed-URL blob storage for media assets.
//
// The pipeline never streams object bytes through the application. Uploads
// go straight from clients to the backend via presigned PUT URLs, and stage
// workers hand transformers short-lived presigned GET URLs for the source
// object.
//
// Two backends are provided:
//
//   - S3Storage for Amazon S3 and S3-compatible services (MinIO, R2),
//     built on aws-sdk-go-v2 presigning.
//   - LocalStorage for development and tests, producing HMAC-tokened URLs
//     a local file server can verify.
//
// # Usage
//
//	blobs, err := storage.NewS3Storage(ctx, storage.S3Config{
//		Bucket: "media",
//		Region: "us-east-1",
//	})
//	if err != nil {
//		return err
//	}
//
//	uploadURL, err := blobs.SignedUploadURL(ctx, "uploads/clip.mp4", "video/mp4", 15*time.Minute)
package storage
