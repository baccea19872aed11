package app

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractvault/contractvault/internal/config"
	"github.com/contractvault/contractvault/internal/contract"
	"github.com/contractvault/contractvault/internal/extract"
	"github.com/contractvault/contractvault/internal/logging"
)

func init() {
	logging.InitNop()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StorageOrder:            []string{"local"},
		LocalStoragePath:        t.TempDir(),
		Extractor:               "docx",
		HashAlgorithm:           "sha256",
		HashScope:               config.HashScopeGlobal,
		CleanupOnExtractFailure: true,
	}
}

func TestNewInMemory(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.NotNil(t, a.Service)
	require.Len(t, a.Router.Backends(), 1)
	assert.Equal(t, "local", a.Router.Backends()[0].Scheme())
}

func TestNewRejectsBadHashConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HashAlgorithm = "crc32"
	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, contract.ErrInvalidArgument)
}

func TestNewExtractor(t *testing.T) {
	cfg := testConfig(t)
	_, ok := NewExtractor(cfg).(extract.DocxExtractor)
	assert.True(t, ok)

	cfg.Extractor = "tika"
	cfg.TikaURL = "http://tika:9998"
	_, ok = NewExtractor(cfg).(*extract.TikaExtractor)
	assert.True(t, ok)
}

func TestSweepKeepsLiveVersions(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	c, err := a.Service.CreateContract(ctx, contract.CreateContractInput{Number: "S-1", Name: "Sweep"})
	require.NoError(t, err)
	v, err := a.Service.Versions().CreateVersion(ctx, contract.CreateVersionInput{
		ContractID: c.ID,
		FileName:   "terms.docx",
		Data:       docx(t, "Terms"),
	})
	require.NoError(t, err)

	orphan := filepath.Join(cfg.LocalStoragePath, "stale_terms.docx")
	require.NoError(t, os.WriteFile(orphan, []byte("left over"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))
	require.NoError(t, os.Chtimes(v.Location, old, old))

	report, err := a.Sweep(ctx, time.Hour, true)
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, report.Orphans)
	assert.FileExists(t, orphan)

	report, err = a.Sweep(ctx, time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.NoFileExists(t, orphan)
	assert.FileExists(t, v.Location)
}

func TestFindMigrationsDir(t *testing.T) {
	// Tests run from internal/app, so ../../migrations is the repo's.
	dir := FindMigrationsDir()
	require.NotEmpty(t, dir)
	assert.FileExists(t, filepath.Join(dir, "001_contracts.up.sql"))
}

// docx builds a minimal .docx archive holding one paragraph.
func docx(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` +
		text + `</w:t></w:r></w:p></w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
