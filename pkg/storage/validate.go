package storage

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
	"ransomhub/pkg/apperr"
)

// MaxUploadBytes caps every user upload.
const MaxUploadBytes = 1 << 20

var (
	ErrUploadMissing    = apperr.Validation("upload_missing", "file is required")
	ErrUploadTooLarge   = apperr.Validation("upload_too_large", "file size exceeds 1MB")
	ErrUploadBadType    = apperr.Validation("upload_bad_type", "invalid file type")
	ErrUploadBadPDF     = apperr.Validation("upload_bad_pdf", "document is not a readable PDF")
	imageExtensions     = map[string]struct{}{".jpg": {}, ".jpeg": {}, ".png": {}}
	documentContentType = map[string]struct{}{"image/jpeg": {}, "image/png": {}, "application/pdf": {}}
)

// ValidateImage accepts JPEG and PNG images by extension, up to MaxUploadBytes.
func ValidateImage(filename string, data []byte) error {
	if len(data) == 0 {
		return ErrUploadMissing
	}
	if _, ok := imageExtensions[strings.ToLower(path.Ext(filename))]; !ok {
		return ErrUploadBadType.WithMessage("invalid file type, only JPEG, JPG and PNG are allowed")
	}
	if len(data) > MaxUploadBytes {
		return ErrUploadTooLarge
	}
	return nil
}

// ValidateDocument accepts identity documents as JPEG, PNG or PDF.
// PDFs must parse and contain at least one page.
func ValidateDocument(contentType string, data []byte) error {
	if len(data) == 0 {
		return ErrUploadMissing
	}
	contentType = normalizeContentType(contentType)
	if _, ok := documentContentType[contentType]; !ok {
		return ErrUploadBadType
	}
	if len(data) > MaxUploadBytes {
		return ErrUploadTooLarge
	}
	if contentType != "application/pdf" {
		return nil
	}
	pages, err := pdfPageCount(data)
	if err != nil || pages < 1 {
		return ErrUploadBadPDF
	}
	return nil
}

func pdfPageCount(data []byte) (n int, err error) {
	// the reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return reader.NumPage(), nil
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}
