package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUploadExt(t *testing.T) {
	ext, ok := UploadExt("image/jpeg")
	assert.True(t, ok)
	assert.Equal(t, ".jpg", ext)

	_, ok = UploadExt("application/pdf")
	assert.False(t, ok)
}

func TestObjectKeys(t *testing.T) {
	assert.Equal(t, "images/original/abc.png", OriginalObjectKey("abc", ".png"))
	assert.Equal(t, "images/optimized/abc/800.webp", OptimizedObjectKey("abc", 800, "webp"))
}
