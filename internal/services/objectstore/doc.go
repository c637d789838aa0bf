// Package objectstore stages final artifacts in a blob bucket so the
// transcription service can fetch them through a signed URL.
//
// Buckets are opened by URL through gocloud.dev/blob: s3:// for AWS S3 and
// compatible stores (MinIO, OSS with an S3 endpoint), file:// for local
// development and tests.
package objectstore
