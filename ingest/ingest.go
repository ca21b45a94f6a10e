// Package ingest receives uploaded PDFs into the process working directory.
//
// Every upload gets a random identifier and is stored as <id>.pdf; its
// corrected copy lives next to it as <id>_corrected.pdf. Nothing is durable:
// the directory belongs to the process and is removed by Close when the Store
// created it.
package ingest

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hazyhaar/accesspdf/horosafe"
	"github.com/hazyhaar/accesspdf/idgen"
)

var (
	// ErrNotPDF is returned when the upload does not carry a PDF header.
	ErrNotPDF = errors.New("ingest: not a PDF file")
	// ErrTooLarge is returned when the upload exceeds the size limit.
	ErrTooLarge = errors.New("ingest: file too large")
	// ErrEmpty is returned for zero-byte uploads.
	ErrEmpty = errors.New("ingest: empty file")
	// ErrNotFound is returned for unknown identifiers.
	ErrNotFound = errors.New("ingest: document not found")
)

// headerWindow is how far into the file the %PDF- marker may appear.
const headerWindow = 1024

var pdfMagic = []byte("%PDF-")

// Document is one stored upload.
type Document struct {
	ID           string    `json:"id"`
	Path         string    `json:"-"`
	OriginalName string    `json:"original_name,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
	SHA256       string    `json:"sha256"`
	HasEOF       bool      `json:"has_eof"` // %%EOF marker found in the trailer
	CreatedAt    time.Time `json:"created_at"`
}

// Config configures the store.
type Config struct {
	// WorkDir holds uploads. Empty means a fresh temporary directory owned
	// (and removed on Close) by the Store.
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// MaxFileBytes caps one upload (default 50 MB).
	MaxFileBytes int64 `json:"max_file_bytes" yaml:"max_file_bytes"`

	// IDGen mints document identifiers (default idgen.UUIDv4).
	IDGen idgen.Generator `json:"-" yaml:"-"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = 50 * 1024 * 1024
	}
	if c.IDGen == nil {
		c.IDGen = idgen.UUIDv4()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store keeps uploads for the lifetime of the process.
type Store struct {
	cfg   Config
	dir   string
	owned bool

	mu   sync.RWMutex
	docs map[string]*Document
}

// Open prepares the working directory and returns a Store.
func Open(cfg Config) (*Store, error) {
	cfg.defaults()
	s := &Store{cfg: cfg, docs: make(map[string]*Document)}
	if cfg.WorkDir == "" {
		dir, err := os.MkdirTemp("", "accesspdf-")
		if err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
		s.dir, s.owned = dir, true
	} else {
		if err := os.MkdirAll(cfg.WorkDir, 0o700); err != nil {
			return nil, fmt.Errorf("create work dir %s: %w", cfg.WorkDir, err)
		}
		s.dir = cfg.WorkDir
	}
	cfg.Logger.Info("work dir ready", "dir", s.dir, "owned", s.owned)
	return s, nil
}

// Dir returns the working directory.
func (s *Store) Dir() string { return s.dir }

// MaxFileBytes returns the upload limit.
func (s *Store) MaxFileBytes() int64 { return s.cfg.MaxFileBytes }

// Save streams r into <id>.pdf, checking the PDF header and the size limit
// while hashing. name is the client file name, kept for display only.
func (s *Store) Save(r io.Reader, name string) (*Document, error) {
	id := s.cfg.IDGen()
	if err := horosafe.ValidateIdentifier(id); err != nil {
		return nil, fmt.Errorf("invalid document ID: %w", err)
	}
	path, err := horosafe.SafePath(s.dir, id+".pdf")
	if err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(r, headerWindow)
	head, err := br.Peek(headerWindow)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(head) == 0 {
		return nil, ErrEmpty
	}
	if !bytes.Contains(head, pdfMagic) {
		return nil, ErrNotPDF
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	h := sha256.New()
	limited := io.LimitReader(br, s.cfg.MaxFileBytes+1) // +1 to detect overflow
	n, err := io.Copy(io.MultiWriter(tmp, h), limited)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if n > s.cfg.MaxFileBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, s.cfg.MaxFileBytes)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	doc := &Document{
		ID:           id,
		Path:         path,
		OriginalName: horosafe.DisplayName(name),
		SizeBytes:    n,
		SHA256:       hex.EncodeToString(h.Sum(nil)),
		HasEOF:       hasEOFMarker(path),
		CreatedAt:    time.Now().UTC(),
	}
	s.mu.Lock()
	s.docs[id] = doc
	s.mu.Unlock()

	s.cfg.Logger.Debug("upload stored", "id", id, "size", n, "sha256", doc.SHA256)
	return doc, nil
}

// Import copies a local file into the store, as Save does for uploads.
func (s *Store) Import(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.Save(f, path)
}

// Get returns the document stored under id.
func (s *Store) Get(id string) (*Document, error) {
	if err := horosafe.ValidateIdentifier(id); err != nil {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	doc, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

// CorrectedPath returns where the corrected copy of id is written.
func (s *Store) CorrectedPath(id string) (string, error) {
	if err := horosafe.ValidateIdentifier(id); err != nil {
		return "", err
	}
	return horosafe.SafePath(s.dir, id+"_corrected.pdf")
}

// OpenCorrected opens the corrected copy of id for reading.
func (s *Store) OpenCorrected(id string) (*os.File, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	path, err := s.CorrectedPath(id)
	if err != nil {
		return nil, ErrNotFound
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// Remove deletes the upload and its corrected copy.
func (s *Store) Remove(id string) error {
	doc, err := s.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.docs, id)
	s.mu.Unlock()

	var errs []error
	if err := os.Remove(doc.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if p, err := s.CorrectedPath(id); err == nil {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close removes the working directory when the Store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	s.cfg.Logger.Info("removing work dir", "dir", s.dir)
	return os.RemoveAll(s.dir)
}

// hasEOFMarker checks the last KiB of the file for %%EOF.
func hasEOFMarker(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return false
	}
	size := info.Size()
	off := size - 1024
	if off < 0 {
		off = 0
	}
	buf := make([]byte, size-off)
	if _, err := f.ReadAt(buf, off); err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	return bytes.Contains(buf, []byte("%%EOF"))
}
