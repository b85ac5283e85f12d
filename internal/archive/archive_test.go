package archive

import (
	"testing"

	"github.com/m3rciful/studybot/internal/domain"
)

func TestObjectKey(t *testing.T) {
	cases := []struct {
		name string
		p    domain.Payment
		want string
	}{
		{
			name: "document keeps its name",
			p:    domain.Payment{ID: 2, RequestID: 9, Evidence: domain.FileRef{ID: "f", Kind: domain.FileDocument, Name: "receipt.pdf"}},
			want: "payments/9/2-receipt.pdf",
		},
		{
			name: "path components are stripped",
			p:    domain.Payment{ID: 3, RequestID: 9, Evidence: domain.FileRef{ID: "f", Kind: domain.FileDocument, Name: `..\..\evil.pdf`}},
			want: "payments/9/3-evil.pdf",
		},
		{
			name: "photo falls back to file id",
			p:    domain.Payment{ID: 1, RequestID: 4, Evidence: domain.FileRef{ID: "AgAD", Kind: domain.FilePhoto}},
			want: "payments/4/1-AgAD.jpg",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ObjectKey(tc.p); got != tc.want {
				t.Fatalf("ObjectKey = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestContentType(t *testing.T) {
	if got := contentType(domain.FileRef{Kind: domain.FilePhoto}); got != "image/jpeg" {
		t.Fatalf("photo = %s", got)
	}
	if got := contentType(domain.FileRef{Kind: domain.FileDocument, Name: "a.PDF"}); got != "application/pdf" {
		t.Fatalf("pdf = %s", got)
	}
	if got := contentType(domain.FileRef{Kind: domain.FileDocument, Name: "a.docx"}); got != "application/octet-stream" {
		t.Fatalf("docx = %s", got)
	}
}
