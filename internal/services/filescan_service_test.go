package services

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cybersentinel/sentinel/internal/models"
	"github.com/cybersentinel/sentinel/internal/waf"
)

func setupScanDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.BlockedEntry{}, &models.SecurityEvent{}))
	return db
}

type scanFixture struct {
	scanner   *FileScanService
	blocklist *BlocklistService
	uploadDir string
	quarDir   string
	secureDir string
}

func newScanFixture(t *testing.T, maxSize int64) *scanFixture {
	db := setupScanDB(t)
	base := t.TempDir()
	f := &scanFixture{
		uploadDir: filepath.Join(base, "uploads"),
		quarDir:   filepath.Join(base, "quarantine"),
		secureDir: filepath.Join(base, "secure"),
	}
	f.blocklist = NewBlocklistService(db, time.Minute, testClientOrigins)
	events := NewEventService(db)
	alerts := NewAlertService(false, nil, "", base)

	key := bytes.Repeat([]byte{0x42}, 32)
	scanner, err := NewFileScanService(maxSize, 24*time.Hour, key, f.uploadDir, f.quarDir, f.secureDir, f.blocklist, events, alerts)
	require.NoError(t, err)
	require.NoError(t, scanner.EnsureDirectories())
	f.scanner = scanner
	return f
}

func (f *scanFixture) writeTemp(t *testing.T, content []byte) string {
	path := filepath.Join(f.uploadDir, "tmp_test")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func uploadRequest() *waf.RequestContext {
	return &waf.RequestContext{
		Method:     "POST",
		URL:        "/api/upload",
		RemoteAddr: "203.0.113.7",
		UserAgent:  "test-agent",
	}
}

func TestFileScan_RejectsKeyLength(t *testing.T) {
	_, err := NewFileScanService(1, time.Hour, []byte("short"), "", "", "", nil, nil, nil)
	assert.Error(t, err)
}

func TestFileScan_SuspiciousNames(t *testing.T) {
	f := newScanFixture(t, 10<<20)
	temp := f.writeTemp(t, []byte("whatever"))

	for _, name := range []string{
		"invoice.pdf.exe",
		"run.bat",
		"shell.php",
		"backdoor.sh",
		"../../etc/passwd.txt",
	} {
		res, err := f.scanner.Scan(temp, name)
		require.NoError(t, err)
		assert.False(t, res.Safe, "name %q must be rejected", name)
		assert.Equal(t, StageFilename, res.Stage, "name %q", name)
	}
}

func TestFileScan_ExtensionNotAllowed(t *testing.T) {
	f := newScanFixture(t, 10<<20)
	temp := f.writeTemp(t, []byte("data"))

	res, err := f.scanner.Scan(temp, "firmware.bin")
	require.NoError(t, err)
	assert.False(t, res.Safe)
	assert.Equal(t, StageMIME, res.Stage)
}

func TestFileScan_ExecutableDisguisedAsPDF(t *testing.T) {
	f := newScanFixture(t, 10<<20)

	// PE header behind a document name.
	pe := append([]byte{0x4D, 0x5A, 0x90, 0x00}, bytes.Repeat([]byte{0}, 200)...)
	temp := f.writeTemp(t, pe)

	res, err := f.scanner.Scan(temp, "report.pdf")
	require.NoError(t, err)
	assert.False(t, res.Safe)
	assert.Equal(t, StageContent, res.Stage)
}

func TestFileScan_EmbeddedScriptContent(t *testing.T) {
	f := newScanFixture(t, 10<<20)
	temp := f.writeTemp(t, []byte("hello <?php system($_GET['c']); ?>"))

	res, err := f.scanner.Scan(temp, "notes.txt")
	require.NoError(t, err)
	assert.False(t, res.Safe)
	assert.Equal(t, StageContent, res.Stage)
}

func TestFileScan_ZipBombHeuristics(t *testing.T) {
	f := newScanFixture(t, 10<<20)

	// A 50-byte "archive" is not a plausible zip.
	tiny := append([]byte{0x50, 0x4B, 0x03, 0x04}, bytes.Repeat([]byte{0}, 46)...)
	temp := f.writeTemp(t, tiny)
	res, err := f.scanner.Scan(temp, "data.zip")
	require.NoError(t, err)
	assert.False(t, res.Safe)
	assert.Equal(t, StageZipBomb, res.Stage)

	// A 5KB zip with one local header passes.
	ok := append([]byte{0x50, 0x4B, 0x03, 0x04}, bytes.Repeat([]byte{1}, 5*1024)...)
	temp = f.writeTemp(t, ok)
	res, err = f.scanner.Scan(temp, "data.zip")
	require.NoError(t, err)
	assert.True(t, res.Safe)

	// Hundreds of local headers trip the nesting heuristic.
	var nested bytes.Buffer
	for i := 0; i < 150; i++ {
		nested.Write([]byte{0x50, 0x4B, 0x03, 0x04})
		nested.Write(bytes.Repeat([]byte{2}, 16))
	}
	temp = f.writeTemp(t, nested.Bytes())
	res, err = f.scanner.Scan(temp, "data.zip")
	require.NoError(t, err)
	assert.False(t, res.Safe)
	assert.Equal(t, StageZipBomb, res.Stage)

	// Rar archives get the same treatment.
	tinyRar := append([]byte("Rar!"), bytes.Repeat([]byte{0}, 40)...)
	temp = f.writeTemp(t, tinyRar)
	res, err = f.scanner.Scan(temp, "data.rar")
	require.NoError(t, err)
	assert.False(t, res.Safe)
	assert.Equal(t, StageZipBomb, res.Stage)
}

func TestFileScan_SizeLimit(t *testing.T) {
	f := newScanFixture(t, 64)
	temp := f.writeTemp(t, bytes.Repeat([]byte("a"), 100))

	res, err := f.scanner.Scan(temp, "big.txt")
	require.NoError(t, err)
	assert.False(t, res.Safe)
	assert.Equal(t, StageSize, res.Stage)
}

func TestProcessUpload_MaliciousFileQuarantinedAndBlocked(t *testing.T) {
	f := newScanFixture(t, 10<<20)

	pe := append([]byte{0x4D, 0x5A, 0x90, 0x00}, bytes.Repeat([]byte{0}, 200)...)
	temp := f.writeTemp(t, pe)

	outcome, err := f.scanner.ProcessUpload(uploadRequest(), waf.TrustExternal, temp, "report.pdf")
	require.NoError(t, err)
	assert.False(t, outcome.Result.Safe)
	assert.NotEmpty(t, outcome.QuarantinePath)

	// Temp file is gone, quarantine copy exists.
	_, statErr := os.Stat(temp)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(outcome.QuarantinePath)
	assert.NoError(t, statErr)

	// Uploader is blocked.
	blocked, err := f.blocklist.IsBlocked("203.0.113.7")
	require.NoError(t, err)
	assert.True(t, blocked)

	entry, err := f.blocklist.Get("203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, models.ReasonMaliciousFile, entry.Reason)
}

func TestProcessUpload_CleanFileEncryptedRoundTrip(t *testing.T) {
	f := newScanFixture(t, 10<<20)

	plaintext := []byte("quarterly figures: all numbers fine.\n")
	temp := f.writeTemp(t, plaintext)

	outcome, err := f.scanner.ProcessUpload(uploadRequest(), waf.TrustExternal, temp, "figures.txt")
	require.NoError(t, err)
	assert.True(t, outcome.Result.Safe)
	assert.NotEmpty(t, outcome.StoredName)

	// Temp file removed, stored blob is not the plaintext.
	_, statErr := os.Stat(temp)
	assert.True(t, os.IsNotExist(statErr))

	stored, err := os.ReadFile(outcome.StoredPath)
	require.NoError(t, err)
	assert.NotContains(t, string(stored), "quarterly figures")

	// Decryption restores the exact original bytes.
	got, err := f.scanner.Decrypt(outcome.StoredName)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	// The uploader is not blocked for a clean file.
	blocked, err := f.blocklist.IsBlocked("203.0.113.7")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestDecrypt_RejectsTruncatedBlob(t *testing.T) {
	f := newScanFixture(t, 10<<20)

	require.NoError(t, os.WriteFile(filepath.Join(f.secureDir, "bad.enc"), []byte("tiny"), 0o600))
	_, err := f.scanner.Decrypt("bad.enc")
	assert.ErrorIs(t, err, ErrNotEncrypted)
}

func TestIsViewable(t *testing.T) {
	ct, ok := IsViewable("photo.JPG")
	assert.True(t, ok)
	assert.Equal(t, "image/jpeg", ct)

	_, ok = IsViewable("archive.zip")
	assert.False(t, ok)
}
