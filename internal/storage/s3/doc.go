// Package s3 implements the object-storage contract over AWS S3. One
// Backend serves one bucket; the transform core instantiates two, one for
// the read-only originals namespace and one for the rendition namespace.
package s3
