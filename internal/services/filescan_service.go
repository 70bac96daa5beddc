package services

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cybersentinel/sentinel/internal/logger"
	"github.com/cybersentinel/sentinel/internal/metrics"
	"github.com/cybersentinel/sentinel/internal/models"
	"github.com/cybersentinel/sentinel/internal/waf"
)

// Scan stage names, reported in ScanResult and the audit trail.
const (
	StageFilename = "filename"
	StageMIME     = "mime_type"
	StageContent  = "content"
	StageZipBomb  = "zip_bomb"
	StageSize     = "size"
)

// ErrNotEncrypted is returned when a secure-store file is too short to
// hold an IV.
var ErrNotEncrypted = errors.New("file too short to be encrypted")

// ScanResult is the outcome of a file scan.
type ScanResult struct {
	Safe   bool
	Stage  string // failing stage, empty when safe
	Reason string // human-readable reason, empty when safe
}

// UploadOutcome reports what happened to an uploaded file.
type UploadOutcome struct {
	Result         ScanResult
	QuarantinePath string // set when the file was quarantined
	StoredPath     string // set when the file was encrypted into the secure store
	StoredName     string // name to reference the stored file by
}

// suspiciousNamePatterns reject file names before any content is read.
var suspiciousNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.(exe|bat|cmd|scr|vbs|com|pif|jar|msi|dll)$`),
	regexp.MustCompile(`(?i)\.(pdf|doc|docx|jpg|jpeg|png|txt)\.(exe|bat|cmd|scr|vbs|com|pif)$`),
	regexp.MustCompile(`(?i)\.(php|php3|php4|php5|phtml|asp|aspx|jsp|cgi)$`),
	regexp.MustCompile(`(?i)\.(sh|bash|zsh|csh|ksh)$`),
	regexp.MustCompile(`(?i)\.(ps1|psm1|psd1)$`),
	regexp.MustCompile(`\x00`),
	regexp.MustCompile(`\.\.`),
}

// contentSignatures are byte prefixes and markers of executable or script
// content hiding behind a benign name.
var contentSignatures = []struct {
	sig    []byte
	prefix bool // must appear at offset 0
	reason string
}{
	{[]byte{0x4D, 0x5A, 0x90, 0x00}, true, "Windows PE executable"},
	{[]byte{0x7F, 0x45, 0x4C, 0x46}, true, "ELF executable"},
	{[]byte("#!/bin/sh"), true, "shell script"},
	{[]byte("#!/bin/bash"), true, "shell script"},
	{[]byte("#!/usr/bin/env"), true, "interpreter script"},
	{[]byte("<?php"), false, "embedded PHP code"},
	{[]byte("<script"), false, "embedded script tag"},
	{[]byte("eval(unescape("), false, "obfuscated JavaScript"},
	{[]byte("cmd.exe"), false, "Windows command invocation"},
	{[]byte("powershell"), false, "PowerShell invocation"},
}

// allowedMIMETypes maps permitted extensions to the content types a sniff
// of the file may legitimately produce. Container formats (docx, xlsx)
// sniff as zip; some browsers upload PDFs as octet-stream.
var allowedMIMETypes = map[string][]string{
	".pdf":  {"application/pdf", "application/octet-stream"},
	".doc":  {"application/msword", "application/octet-stream"},
	".docx": {"application/zip", "application/octet-stream"},
	".xls":  {"application/vnd.ms-excel", "application/octet-stream"},
	".xlsx": {"application/zip", "application/octet-stream"},
	".ppt":  {"application/vnd.ms-powerpoint", "application/octet-stream"},
	".pptx": {"application/zip", "application/octet-stream"},
	".txt":  {"text/plain"},
	".csv":  {"text/plain", "text/csv"},
	".rtf":  {"text/rtf", "application/rtf", "text/plain"},
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".png":  {"image/png"},
	".gif":  {"image/gif"},
	".bmp":  {"image/bmp"},
	".webp": {"image/webp"},
	".svg":  {"image/svg+xml", "text/xml", "text/plain"},
	".zip":  {"application/zip"},
	".rar":  {"application/x-rar-compressed", "application/octet-stream"},
	".mp3":  {"audio/mpeg"},
	".mp4":  {"video/mp4"},
	".wav":  {"audio/wave", "audio/wav"},
	".json": {"text/plain", "application/json"},
	".xml":  {"text/xml", "application/xml", "text/plain"},
	".md":   {"text/plain"},
	".log":  {"text/plain"},
	".odt":  {"application/zip", "application/octet-stream"},
	".ods":  {"application/zip", "application/octet-stream"},
}

// viewableExtensions can be streamed inline to a browser after decryption.
var viewableExtensions = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".txt":  "text/plain",
	".md":   "text/plain",
	".log":  "text/plain",
	".json": "application/json",
}

const (
	// zipBombMinSize flags zips too small to be a real archive.
	zipBombMinSize = 100
	// zipBombMaxEntries flags archives with implausibly many local headers.
	zipBombMaxEntries = 100
	// contentScanLimit bounds how much of a file the content stage reads.
	contentScanLimit = 1 << 20
)

// FileScanService scans uploads through a fixed pipeline, quarantines
// anything that fails and encrypts clean files into the secure store.
// A scan that errors is treated as malicious: the file is quarantined,
// never stored.
type FileScanService struct {
	maxSize       int64
	blockFor      time.Duration
	key           []byte
	uploadDir     string
	quarantineDir string
	secureDir     string

	blocklist *BlocklistService
	events    *EventService
	alerts    *AlertService
}

// NewFileScanService builds the scanner. key must be 32 bytes (AES-256).
func NewFileScanService(maxSize int64, blockFor time.Duration, key []byte, uploadDir, quarantineDir, secureDir string, blocklist *BlocklistService, events *EventService, alerts *AlertService) (*FileScanService, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return &FileScanService{
		maxSize:       maxSize,
		blockFor:      blockFor,
		key:           key,
		uploadDir:     uploadDir,
		quarantineDir: quarantineDir,
		secureDir:     secureDir,
		blocklist:     blocklist,
		events:        events,
		alerts:        alerts,
	}, nil
}

// EnsureDirectories creates the upload, quarantine and secure store
// directories. Call once at startup.
func (s *FileScanService) EnsureDirectories() error {
	for _, dir := range []string{s.uploadDir, s.quarantineDir, s.secureDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Scan runs the pipeline against the file at path, uploaded under
// originalName. Stages run in order; the first failure wins.
func (s *FileScanService) Scan(path, originalName string) (ScanResult, error) {
	for _, re := range suspiciousNamePatterns {
		if re.MatchString(originalName) {
			return ScanResult{Stage: StageFilename, Reason: fmt.Sprintf("suspicious file name %q", originalName)}, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return ScanResult{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ScanResult{}, fmt.Errorf("stat upload: %w", err)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return ScanResult{}, fmt.Errorf("read upload head: %w", err)
	}
	head = head[:n]

	ext := strings.ToLower(filepath.Ext(originalName))
	accepted, ok := allowedMIMETypes[ext]
	if !ok {
		return ScanResult{Stage: StageMIME, Reason: fmt.Sprintf("file extension %q not allowed", ext)}, nil
	}
	detected := http.DetectContentType(head)
	if !mimeAccepted(detected, accepted) {
		return ScanResult{Stage: StageMIME, Reason: fmt.Sprintf("content type %q does not match extension %q", detected, ext)}, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return ScanResult{}, fmt.Errorf("rewind upload: %w", err)
	}
	body := make([]byte, contentScanLimit)
	n, err = io.ReadFull(f, body)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return ScanResult{}, fmt.Errorf("read upload body: %w", err)
	}
	body = body[:n]

	for _, sig := range contentSignatures {
		if sig.prefix {
			if bytes.HasPrefix(body, sig.sig) {
				return ScanResult{Stage: StageContent, Reason: sig.reason}, nil
			}
		} else if bytes.Contains(body, sig.sig) {
			return ScanResult{Stage: StageContent, Reason: sig.reason}, nil
		}
	}

	// Archive heuristics apply to anything carrying a zip or rar
	// signature, not just files named *.zip: office containers and
	// renamed archives count too.
	if isArchive(body) {
		if info.Size() < zipBombMinSize {
			return ScanResult{Stage: StageZipBomb, Reason: fmt.Sprintf("archive suspiciously small (%d bytes)", info.Size())}, nil
		}
		if entries := countZipEntries(body); entries > zipBombMaxEntries {
			return ScanResult{Stage: StageZipBomb, Reason: fmt.Sprintf("archive holds %d entries", entries)}, nil
		}
	}

	if info.Size() > s.maxSize {
		return ScanResult{Stage: StageSize, Reason: fmt.Sprintf("file size %d exceeds limit %d", info.Size(), s.maxSize)}, nil
	}

	return ScanResult{Safe: true}, nil
}

// ProcessUpload scans the temp file and routes it: quarantine plus a
// 24-hour block for anything unsafe, otherwise encryption into the secure
// store. The temp file is gone in every outcome, including errors.
func (s *FileScanService) ProcessUpload(req *waf.RequestContext, class waf.TrustClass, tempPath, originalName string) (UploadOutcome, error) {
	defer os.Remove(tempPath)

	result, err := s.Scan(tempPath, originalName)
	if err != nil {
		// Unscannable is treated the same as malicious.
		logger.WithFields(map[string]interface{}{
			"file":  originalName,
			"error": err.Error(),
		}).Error("file scan failed, quarantining")
		result = ScanResult{Stage: StageContent, Reason: "scan error: " + err.Error()}
	}

	if !result.Safe {
		return s.rejectUpload(req, class, tempPath, originalName, result)
	}

	storedName, storedPath, err := s.encryptFile(tempPath)
	if err != nil {
		return UploadOutcome{}, fmt.Errorf("encrypt upload: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"file":   originalName,
		"stored": storedName,
	}).Info("upload stored")

	return UploadOutcome{
		Result:     result,
		StoredPath: storedPath,
		StoredName: storedName,
	}, nil
}

func (s *FileScanService) rejectUpload(req *waf.RequestContext, class waf.TrustClass, tempPath, originalName string, result ScanResult) (UploadOutcome, error) {
	metrics.FilesQuarantined.WithLabelValues(result.Stage).Inc()

	qPath, qErr := s.quarantine(tempPath, originalName)
	if qErr != nil {
		logger.WithFields(map[string]interface{}{
			"file":  originalName,
			"error": qErr.Error(),
		}).Error("quarantine failed")
	}

	addr := req.Addr()
	blockingKey := waf.BlockingKey(addr, req.Origin, class)
	if err := s.blocklist.Block(blockingKey, models.ReasonMaliciousFile, BlockOptions{
		Duration:  s.blockFor,
		UserAgent: req.UserAgent,
	}); err != nil {
		logger.WithFields(map[string]interface{}{
			"key":   blockingKey,
			"error": err.Error(),
		}).Error("failed to block uploader")
	}

	s.events.Record(&models.SecurityEvent{
		IP:            addr,
		EventType:     models.EventFileQuarantined,
		Severity:      models.SeverityHigh,
		Description:   fmt.Sprintf("Malicious upload %q quarantined: %s", originalName, result.Reason),
		UserAgent:     req.UserAgent,
		RequestURL:    req.URL,
		RequestMethod: req.Method,
		Origin:        req.Origin,
		Blocked:       true,
		BlockingKey:   blockingKey,
	})

	s.alerts.Dispatch(AlertFileUpload, map[string]interface{}{
		"ip":       addr,
		"filename": originalName,
		"stage":    result.Stage,
		"reason":   result.Reason,
	})

	return UploadOutcome{Result: result, QuarantinePath: qPath}, nil
}

// quarantine moves the file into the quarantine directory under a
// collision-proof name derived from the original name and timestamp.
func (s *FileScanService) quarantine(tempPath, originalName string) (string, error) {
	ts := time.Now().Unix()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s%d", originalName, ts)))
	name := fmt.Sprintf("%s_%d_%s", hex.EncodeToString(sum[:])[:16], ts, filepath.Base(originalName))
	dst := filepath.Join(s.quarantineDir, name)

	if err := os.Rename(tempPath, dst); err != nil {
		// Rename fails across filesystems; fall back to copy.
		if copyErr := copyFile(tempPath, dst); copyErr != nil {
			return "", copyErr
		}
		os.Remove(tempPath)
	}
	return dst, nil
}

// encryptFile encrypts the temp file with AES-256-CBC into the secure
// store. The random IV is prepended to the ciphertext; the stored name is
// content-independent so it leaks nothing about the original.
func (s *FileScanService) encryptFile(tempPath string) (string, string, error) {
	plain, err := os.ReadFile(tempPath)
	if err != nil {
		return "", "", err
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", "", err
	}

	padded := pkcs7Pad(plain, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	ts := time.Now().UnixNano()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%x%d", iv, ts)))
	name := fmt.Sprintf("%s_%d.enc", hex.EncodeToString(sum[:])[:16], ts)
	dst := filepath.Join(s.secureDir, name)

	out := make([]byte, 0, len(iv)+len(ciphertext))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	if err := os.WriteFile(dst, out, 0o600); err != nil {
		return "", "", err
	}
	return name, dst, nil
}

// Decrypt reads a secure-store file and returns the plaintext.
func (s *FileScanService) Decrypt(storedName string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.secureDir, filepath.Base(storedName)))
	if err != nil {
		return nil, err
	}
	if len(data) < aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return nil, ErrNotEncrypted
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}

	iv, ciphertext := data[:aes.BlockSize], data[aes.BlockSize:]
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	return pkcs7Unpad(plain, aes.BlockSize)
}

// IsViewable reports whether a file with this original name can be
// streamed inline, and the content type to serve it under.
func IsViewable(originalName string) (string, bool) {
	ct, ok := viewableExtensions[strings.ToLower(filepath.Ext(originalName))]
	return ct, ok
}

func mimeAccepted(detected string, accepted []string) bool {
	for _, a := range accepted {
		if strings.HasPrefix(detected, a) {
			return true
		}
	}
	return false
}

var (
	zipLocalHeader = []byte{0x50, 0x4B, 0x03, 0x04}
	rarSignature   = []byte{0x52, 0x61, 0x72, 0x21} // "Rar!"
)

func isArchive(data []byte) bool {
	return bytes.Contains(data, zipLocalHeader) || bytes.Contains(data, rarSignature)
}

func countZipEntries(data []byte) int {
	return bytes.Count(data, zipLocalHeader)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-padding], nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
