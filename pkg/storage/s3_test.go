package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProductKey(t *testing.T) {
	assert.Equal(t, "products/masterclass/guide.pdf", ProductKey("masterclass", "guide.pdf"))
	assert.Equal(t, "products/masterclass/guide.pdf", ProductKey("masterclass", "../../etc/guide.pdf"))
}

func TestContentTypeForFilename(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentTypeForFilename("Guide.PDF"))
	assert.Equal(t, "application/zip", ContentTypeForFilename("bundle.zip"))
	assert.Equal(t, "application/octet-stream", ContentTypeForFilename("notes.txt"))
}
