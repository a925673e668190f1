// Package s3dir publishes pre-key packages as objects in an S3 bucket.
//
// Each address owns one object, "prekeys/<escaped address>.cbor", holding
// the CBOR-encoded package. A publish overwrites the previous package. A
// missing object reads as domain.ErrNotFound; any other failure is a
// transport error.
//
// NewClient builds an SDK client from Config, using static credentials and
// a path-style custom endpoint when they are set, so MinIO and other
// S3-compatible stores work too.
package s3dir
