package storage

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// minimalPDF builds a one-page PDF with a correct xref table.
func minimalPDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestValidateImage(t *testing.T) {
	small := []byte("png-bytes")
	if err := ValidateImage("avatar.PNG", small); err != nil {
		t.Fatalf("expected png accepted, got %v", err)
	}
	if err := ValidateImage("avatar.gif", small); !errors.Is(err, ErrUploadBadType) {
		t.Fatalf("expected bad type, got %v", err)
	}
	if err := ValidateImage("avatar.jpg", bytes.Repeat([]byte("a"), MaxUploadBytes+1)); !errors.Is(err, ErrUploadTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}
	if err := ValidateImage("avatar.jpg", nil); !errors.Is(err, ErrUploadMissing) {
		t.Fatalf("expected missing, got %v", err)
	}
}

func TestValidateDocument(t *testing.T) {
	if err := ValidateDocument("image/jpeg", []byte("jpeg")); err != nil {
		t.Fatalf("expected jpeg accepted, got %v", err)
	}
	if err := ValidateDocument("application/pdf; charset=binary", minimalPDF()); err != nil {
		t.Fatalf("expected pdf accepted, got %v", err)
	}
	if err := ValidateDocument("application/pdf", []byte("not a pdf")); !errors.Is(err, ErrUploadBadPDF) {
		t.Fatalf("expected bad pdf, got %v", err)
	}
	if err := ValidateDocument("text/plain", []byte("hello")); !errors.Is(err, ErrUploadBadType) {
		t.Fatalf("expected bad type, got %v", err)
	}
}

func TestObjectKeyKeepsExtension(t *testing.T) {
	key := ObjectKey("profile", "u1", "Me.JPG")
	if !strings.HasPrefix(key, "profile/u1/") || !strings.HasSuffix(key, ".jpg") {
		t.Fatalf("unexpected key %q", key)
	}
}
