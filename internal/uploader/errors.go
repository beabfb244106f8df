package uploader

import "errors"

var (
	// ErrVideoDetected indicates the payload's byte signature is video even
	// though it was submitted as an image. Permanent: never retried.
	ErrVideoDetected = errors.New("video content detected by file signature")
	// ErrVideoUploadUnsupported indicates a video payload with no video
	// endpoint configured. Permanent: never retried.
	ErrVideoUploadUnsupported = errors.New("video endpoint not configured")
	// ErrFileTooLarge indicates the payload exceeds the upload size limit.
	ErrFileTooLarge = errors.New("file exceeds upload size limit")
	// ErrMalformedResponse indicates the upload API answered with an
	// unexpected body shape.
	ErrMalformedResponse = errors.New("unexpected upload API response")
)
