package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRunner records the pdftotext invocation and returns canned output.
type mockRunner struct {
	output []byte
	err    error
	name   string
	args   []string
	input  []byte
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.name, m.args = name, args
	if len(args) >= 2 {
		m.input, _ = os.ReadFile(args[len(args)-2])
	}
	return m.output, m.err
}

func buildDocx(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const documentXMLBody = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>The capital of France </w:t></w:r><w:r><w:t>is Paris.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Rome is in Italy.</w:t></w:r></w:p>
  </w:body>
</w:document>`

func TestText(t *testing.T) {
	ctx := context.Background()
	out, err := Text(ctx, "Notes.TXT", []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	out, err = Text(ctx, "readme.md", []byte("# Title"))
	require.NoError(t, err)
	assert.Equal(t, "# Title", out)
}

func TestText_DropsInvalidUTF8(t *testing.T) {
	out, err := Text(context.Background(), "a.txt", []byte{'o', 'k', 0xff, 0xfe, '!'})
	require.NoError(t, err)
	assert.Equal(t, "ok!", out)
}

func TestText_Unsupported(t *testing.T) {
	ctx := context.Background()
	_, err := Text(ctx, "scan.png", []byte{0x89, 'P', 'N', 'G'})
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
	_, err = Text(ctx, "noext", nil)
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
}

func TestText_Docx(t *testing.T) {
	content := buildDocx(t, map[string]string{
		"[Content_Types].xml": `<Types/>`,
		"word/document.xml":   documentXMLBody,
	})

	out, err := Text(context.Background(), "Report.DOCX", content)
	require.NoError(t, err)
	assert.Equal(t, "The capital of France is Paris.\nRome is in Italy.", out)
}

func TestText_DocxInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"not a zip", []byte("plain text pretending")},
		{"missing document part", buildDocx(t, map[string]string{"word/styles.xml": "<styles/>"})},
		{"malformed xml", buildDocx(t, map[string]string{"word/document.xml": "<w:document><w:body>"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Text(context.Background(), "bad.docx", tt.content)
			assert.ErrorIs(t, err, ErrInvalidDocument)
			assert.Contains(t, err.Error(), "bad.docx")
		})
	}
}

func TestText_PdfWithRunner(t *testing.T) {
	runner := &mockRunner{output: []byte("  Paris is the capital of France.\n\n")}
	e := NewWithRunner(runner)

	out, err := e.Text(context.Background(), "paper.pdf", []byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", out)
	assert.Equal(t, "pdftotext", runner.name)
	assert.Equal(t, "-", runner.args[len(runner.args)-1])
	assert.Equal(t, []byte("%PDF-1.4 fake"), runner.input)

	_, statErr := os.Stat(runner.args[len(runner.args)-2])
	assert.True(t, os.IsNotExist(statErr), "temporary pdf should be removed")
}

func TestText_PdfRunnerError(t *testing.T) {
	e := NewWithRunner(&mockRunner{err: errors.New("exit status 1: Syntax Error")})

	_, err := e.Text(context.Background(), "paper.pdf", []byte("%PDF"))
	assert.ErrorIs(t, err, ErrInvalidDocument)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestText_PdfToolMissing(t *testing.T) {
	e := NewWithRunner(&mockRunner{err: ErrPDFToolNotFound})

	_, err := e.Text(context.Background(), "paper.pdf", []byte("%PDF"))
	assert.ErrorIs(t, err, ErrPDFToolNotFound)
	assert.NotErrorIs(t, err, ErrInvalidDocument)
}

func TestExecRunner_ToolNotOnPath(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	_, err := execRunner{}.Run(context.Background(), "pdftotext", "-v")
	assert.ErrorIs(t, err, ErrPDFToolNotFound)
	assert.ErrorIs(t, CheckAvailable(), ErrPDFToolNotFound)
}

func TestInstallInstructions(t *testing.T) {
	instructions := InstallInstructions()
	assert.Contains(t, instructions, "pdftotext")
	assert.Contains(t, instructions, "brew install poppler")
	assert.Contains(t, instructions, "apt install poppler-utils")
}
