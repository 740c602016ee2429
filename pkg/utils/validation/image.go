// pkg/utils/validation/image.go
package validation

import (
	"errors"
	"mime/multipart"
	"path/filepath"
	"strings"
)

var (
	ErrFileSize     = errors.New("file size exceeds limit of 10MB")
	ErrFileType     = errors.New("invalid file type. Allowed types: JPG, PNG, WEBP")
	ErrDocumentSize = errors.New("file size exceeds limit of 20MB")
	ErrDocumentType = errors.New("invalid file type. Allowed types: PDF")
	ErrFileRequired = errors.New("no file provided")
)

const (
	MaxImageSize    = 10 * 1024 * 1024 // 10MB
	MaxDocumentSize = 20 * 1024 * 1024 // 20MB
)

var AllowedImageTypes = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

var allowedImageMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

func ValidateImage(file *multipart.FileHeader) error {
	if file == nil {
		return ErrFileRequired
	}

	if file.Size > MaxImageSize {
		return ErrFileSize
	}

	ext := filepath.Ext(strings.ToLower(file.Filename))
	if !AllowedImageTypes[ext] {
		return ErrFileType
	}

	if ct := file.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" && !allowedImageMIME[ct] {
		return ErrFileType
	}

	return nil
}

func ValidateDocument(file *multipart.FileHeader) error {
	if file == nil {
		return ErrFileRequired
	}

	if file.Size > MaxDocumentSize {
		return ErrDocumentSize
	}

	if filepath.Ext(strings.ToLower(file.Filename)) != ".pdf" {
		return ErrDocumentType
	}

	if ct := file.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" && ct != "application/pdf" {
		return ErrDocumentType
	}

	return nil
}
