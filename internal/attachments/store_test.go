package attachments

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveListRemove(t *testing.T) {
	s, err := New(t.TempDir() + "/att")
	require.NoError(t, err)

	a, err := s.Save("job-1", "report.pdf", strings.NewReader("pdf bytes"))
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", a.Filename)

	_, err = s.Save("job-1", "notes.txt", strings.NewReader("hello"))
	require.NoError(t, err)

	list, err := s.List("job-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "notes.txt", list[0].Filename)
	assert.Equal(t, "report.pdf", list[1].Filename)

	data, err := os.ReadFile(list[1].Path)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(data))

	require.NoError(t, s.Remove("job-1"))
	list, err = s.List("job-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSave_SanitizesPathTraversal(t *testing.T) {
	s, err := New(t.TempDir() + "/att")
	require.NoError(t, err)

	a, err := s.Save("job-2", "../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "passwd", a.Filename)
	assert.Contains(t, a.Path, "job-2")
}

func TestRemove_MissingOwnerIsNoop(t *testing.T) {
	s, err := New(t.TempDir() + "/att")
	require.NoError(t, err)
	assert.NoError(t, s.Remove("nope"))
}
