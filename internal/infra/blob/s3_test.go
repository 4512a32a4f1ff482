package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublicURL(t *testing.T) {
	base := "https://abc.supabase.co/storage/v1/object/public/books/"

	assert.Equal(t,
		"https://abc.supabase.co/storage/v1/object/public/books/covers/1-a%20b.png",
		PublicURL(base, "covers/1-a b.png"))
	assert.Equal(t,
		"https://abc.supabase.co/storage/v1/object/public/books/books/pdfs/x.pdf",
		PublicURL(base, "/books/pdfs/x.pdf"))
}

func TestKeyFromPublicURL(t *testing.T) {
	base := "https://abc.supabase.co/storage/v1/object/public/books"

	tests := []struct {
		name   string
		raw    string
		key    string
		wantOK bool
	}{
		{"plain", base + "/books/pdfs/1-x.pdf", "books/pdfs/1-x.pdf", true},
		{"escaped", base + "/covers/1-a%20b.png", "covers/1-a b.png", true},
		{"query stripped", base + "/books/pdfs/x.pdf?download=1", "books/pdfs/x.pdf", true},
		{"foreign host", "https://github.com/o/r/releases/download/t/x.pdf", "", false},
		{"bare base", base + "/", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := KeyFromPublicURL(base, tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.key, key)
		})
	}

	_, ok := KeyFromPublicURL("", base+"/x")
	assert.False(t, ok)
}
