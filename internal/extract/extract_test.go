package extract

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/resume-matcher/internal/domain"
)

type mockRunner struct {
	output []byte
	err    error
	name   string
	args   []string
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.name = name
	m.args = args
	return m.output, m.err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func writeDocx(t *testing.T, documentXML string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cv.docx")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestRegistryPlainText(t *testing.T) {
	r := Default(&mockRunner{})
	path := writeFile(t, "cv.TXT", "Jane Doe\nGo developer")

	text, err := r.Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nGo developer", text)
	assert.True(t, r.Supports(path))
}

func TestRegistryRejectsUnsupportedAndEmpty(t *testing.T) {
	r := Default(&mockRunner{})

	_, err := r.Extract(context.Background(), writeFile(t, "cv.odt", "text"))
	assert.ErrorIs(t, err, domain.ErrExtraction)

	_, err = r.Extract(context.Background(), writeFile(t, "cv.md", "  \n\t"))
	assert.ErrorIs(t, err, domain.ErrExtraction)
}

func TestRegistryExtensions(t *testing.T) {
	assert.Equal(t, []string{".docx", ".md", ".pdf", ".txt"}, Default(nil).Extensions())
}

func TestDocx(t *testing.T) {
	path := writeDocx(t, `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Jane </w:t></w:r><w:r><w:t>Doe</w:t></w:r></w:p>
    <w:p><w:r><w:t>Senior Go Engineer</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	text, err := Default(nil).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nSenior Go Engineer", text)
}

func TestDocxNotAnArchive(t *testing.T) {
	_, err := Default(nil).Extract(context.Background(), writeFile(t, "broken.docx", "plain bytes"))
	assert.ErrorIs(t, err, domain.ErrExtraction)
}

func TestPDFUsesRunner(t *testing.T) {
	runner := &mockRunner{output: []byte("Page one text")}
	path := writeFile(t, "cv.pdf", "%PDF-1.4")

	text, err := Default(runner).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Page one text", text)
	assert.Equal(t, "pdftotext", runner.name)
	assert.Equal(t, path, runner.args[len(runner.args)-2])
}

func TestPDFRunnerFailure(t *testing.T) {
	runner := &mockRunner{err: errors.New("exec: not found")}

	_, err := Default(runner).Extract(context.Background(), writeFile(t, "cv.pdf", "%PDF-1.4"))
	assert.ErrorIs(t, err, domain.ErrExtraction)
}
