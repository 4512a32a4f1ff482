package filename

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Class 10 Science.pdf", "Class_10_Science.pdf"},
		{"  padded   name .pdf ", "padded_name_.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\book one.pdf`, "book_one.pdf"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Validate(" "), ErrEmptyName)
	assert.ErrorIs(t, Validate("staging/../secret"), ErrPathTraversal)
	assert.NoError(t, Validate("staging/2024/01/01/1-a.pdf"))
}

func TestStamped(t *testing.T) {
	now := time.Unix(0, 1700000000123456789)
	assert.Equal(t, "1700000000123456789-My_Book.pdf", Stamped(now, "My Book.pdf"))
}

func TestEnsureExt(t *testing.T) {
	assert.Equal(t, "book.pdf", EnsureExt("book", ".pdf"))
	assert.Equal(t, "book.PDF", EnsureExt("book.PDF", ".pdf"))
}
