package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

const documentXML = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Experience</w:t></w:r></w:p>
<w:p><w:r><w:t>• Led the billing migration to Go</w:t></w:r></w:p>
<w:p><w:r><w:t>• Cut AWS spend by 30%</w:t></w:r></w:p>
</w:body></w:document>`

func TestTextFromBytesDOCX(t *testing.T) {
	data := buildZip(t, map[string]string{"word/document.xml": documentXML})

	for _, mime := range []string{mimeDOCX, "application/zip", ""} {
		text, err := TextFromBytes(context.Background(), data, mime, "resume.docx")
		if err != nil {
			t.Fatalf("mime %q: %v", mime, err)
		}
		if !strings.Contains(text, "Led the billing migration") || !strings.Contains(text, "\n") {
			t.Fatalf("mime %q: unexpected text %q", mime, text)
		}
	}
}

func TestTextFromBytesRealZipRejected(t *testing.T) {
	data := buildZip(t, map[string]string{"notes.txt": "hello"})

	_, err := TextFromBytes(context.Background(), data, "application/zip", "notes.zip")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if !strings.Contains(err.Error(), "application/zip") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTextFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resume.txt")
	if err := os.WriteFile(path, []byte("- Shipped the search revamp\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	text, err := TextFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("TextFromFile: %v", err)
	}
	if text != "- Shipped the search revamp\n" {
		t.Fatalf("unexpected text %q", text)
	}

	bin := filepath.Join(dir, "photo.bin")
	if err := os.WriteFile(bin, []byte{0xff, 0xd8, 0xff}, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := TextFromFile(context.Background(), bin); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestSplitBullets(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "marked bullets skip headings",
			text: "EXPERIENCE\nAcme Corp\n• Led the billing migration to Go\n• Cut AWS spend by 30%\n",
			want: []string{"Led the billing migration to Go", "Cut AWS spend by 30%"},
		},
		{
			name: "wrapped line joins previous bullet",
			text: "- Built a streaming pipeline that\n  processed 2B events per day\n- Hired four engineers",
			want: []string{"Built a streaming pipeline that processed 2B events per day", "Hired four engineers"},
		},
		{
			name: "numbered list",
			text: "1. Owned incident response rota\n2) Wrote the on-call handbook",
			want: []string{"Owned incident response rota", "Wrote the on-call handbook"},
		},
		{
			name: "plain lines need three words",
			text: "Jane Doe\nLed the data platform team\nSkills\n",
			want: []string{"Led the data platform team"},
		},
		{
			name: "duplicates dropped",
			text: "* Ran weekly design reviews\n* Ran weekly design reviews\n",
			want: []string{"Ran weekly design reviews"},
		},
		{
			name: "empty",
			text: "\n\n",
			want: nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := SplitBullets(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("SplitBullets() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
