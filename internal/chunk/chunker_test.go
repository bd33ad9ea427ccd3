package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yates-Labs/tfguard/internal/ingest"
)

func doc(text string) ingest.Document {
	return ingest.Document{SourcePath: "modules/s3/main.tf", Text: text}
}

// pattern returns n characters that never repeat within a 26-character window.
func pattern(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(byte('a' + i%26))
	}
	return b.String()
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{name: "defaults", size: DefaultSize, overlap: DefaultOverlap},
		{name: "no overlap", size: 10, overlap: 0},
		{name: "zero size", size: 0, overlap: 0, wantErr: true},
		{name: "negative overlap", size: 10, overlap: -1, wantErr: true},
		{name: "overlap equals size", size: 10, overlap: 10, wantErr: true},
		{name: "overlap exceeds size", size: 10, overlap: 20, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.size, tt.overlap)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.size, c.Size())
			assert.Equal(t, tt.overlap, c.Overlap())
		})
	}
}

func TestSplit_ShortDocument(t *testing.T) {
	c, err := New(500, 50)
	require.NoError(t, err)

	text := pattern(200)
	chunks := c.Split(doc(text))
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, "modules/s3/main.tf", chunks[0].SourcePath)
	assert.Zero(t, chunks[0].Index)
	assert.Zero(t, chunks[0].Offset)
	assert.Zero(t, chunks[0].Overlap)
}

func TestSplit_EmptyDocument(t *testing.T) {
	c, err := New(500, 50)
	require.NoError(t, err)

	chunks := c.Split(doc(""))
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Text)
}

func TestSplit_LongDocument(t *testing.T) {
	c, err := New(500, 50)
	require.NoError(t, err)

	text := pattern(1200)
	chunks := c.Split(doc(text))
	require.Len(t, chunks, 3)

	wantOffsets := []int{0, 450, 900}
	wantLens := []int{500, 500, 300}
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, wantOffsets[i], ch.Offset)
		assert.Len(t, ch.Text, wantLens[i])
		assert.Equal(t, text[ch.Offset:ch.Offset+len(ch.Text)], ch.Text)
	}

	assert.Zero(t, chunks[0].Overlap)
	assert.Equal(t, 50, chunks[1].Overlap)
	assert.Equal(t, 50, chunks[2].Overlap)

	// Consecutive chunks share exactly the overlap
	assert.Equal(t, chunks[0].Text[450:], chunks[1].Text[:50])
	assert.Equal(t, chunks[1].Text[450:], chunks[2].Text[:50])
}

func TestSplit_ExactFit(t *testing.T) {
	c, err := New(500, 50)
	require.NoError(t, err)

	// 950 characters end exactly with the second window
	chunks := c.Split(doc(pattern(950)))
	require.Len(t, chunks, 2)
	assert.Equal(t, 450, chunks[1].Offset)
	assert.Len(t, chunks[1].Text, 500)
}

func TestSplit_ReassembleRoundTrip(t *testing.T) {
	tests := []struct {
		size, overlap, length int
	}{
		{500, 50, 1200},
		{500, 50, 500},
		{500, 50, 501},
		{10, 0, 95},
		{10, 9, 37},
		{7, 3, 1000},
	}

	for _, tt := range tests {
		c, err := New(tt.size, tt.overlap)
		require.NoError(t, err)

		text := pattern(tt.length)
		chunks := c.Split(doc(text))
		assert.Equal(t, text, Reassemble(chunks), "size=%d overlap=%d length=%d", tt.size, tt.overlap, tt.length)

		for _, ch := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), tt.size)
		}
	}
}

func TestSplit_MultiByteCharacters(t *testing.T) {
	c, err := New(4, 1)
	require.NoError(t, err)

	text := "résumé → ✓ 日本語"
	chunks := c.Split(doc(text))
	require.Greater(t, len(chunks), 1)

	for _, ch := range chunks {
		assert.True(t, utf8.ValidString(ch.Text))
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 4)
	}
	assert.Equal(t, text, Reassemble(chunks))
}

func TestSplit_Deterministic(t *testing.T) {
	c, err := New(100, 10)
	require.NoError(t, err)

	text := pattern(1000)
	assert.Equal(t, c.Split(doc(text)), c.Split(doc(text)))
}

func TestSplitAll(t *testing.T) {
	c, err := New(500, 50)
	require.NoError(t, err)

	chunks := c.SplitAll([]ingest.Document{
		{SourcePath: "a.tf", Text: pattern(1200)},
		{SourcePath: "b.tf", Text: pattern(10)},
	})
	require.Len(t, chunks, 4)
	assert.Equal(t, "a.tf", chunks[2].SourcePath)
	assert.Equal(t, 2, chunks[2].Index)
	assert.Equal(t, "b.tf", chunks[3].SourcePath)
	assert.Zero(t, chunks[3].Index)

	assert.Empty(t, c.SplitAll(nil))
}
