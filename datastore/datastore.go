// Package datastore is a small JSON-file document store with per-document
// revision tokens. Every read returns the document's current revision; every
// write must present the revision it last read, and a stale revision is
// rejected with ErrConflict. This gives callers optimistic concurrency over
// a plain file-backed map.
package datastore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("datastore: document not found")
	// ErrConflict is returned when a write presents a stale revision.
	ErrConflict = errors.New("datastore: revision conflict")
	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("datastore: store is closed")
)

// Config holds configuration options for the DataStore
type Config struct {
	FilePath         string
	AutoSaveInterval time.Duration
	BackupCount      int // Number of backup files to keep
	Logger           *log.Logger
}

// DefaultConfig returns a default configuration
func DefaultConfig(filePath string) *Config {
	return &Config{
		FilePath:         filePath,
		AutoSaveInterval: 10 * time.Second,
		BackupCount:      3,
		Logger:           log.New(os.Stderr, "[datastore] ", log.LstdFlags),
	}
}

// Document is a stored document together with its identity and revision.
type Document struct {
	ID   string
	Rev  string
	Data json.RawMessage
}

// record is the on-disk shape of one document.
type record struct {
	Rev  string          `json:"rev"`
	Data json.RawMessage `json:"data"`
}

type DataStore struct {
	docs         map[string]record  // in-memory document storage
	file         string             // file path for persistent storage
	mu           sync.RWMutex       // mutex for thread-safe access
	ctx          context.Context    // context for cancellation
	cancel       context.CancelFunc // cancel function
	wg           sync.WaitGroup     // wait group for graceful shutdown
	config       *Config            // configuration
	lastChecksum string             // checksum of last saved data
	closed       bool               // flag to indicate if store is closed
	closeMu      sync.RWMutex       // mutex for close flag
}

// New creates a new DataStore with default configuration
func New(filePath string) (*DataStore, error) {
	return NewWithConfig(DefaultConfig(filePath))
}

// NewWithConfig creates a new DataStore with custom configuration
func NewWithConfig(config *Config) (*DataStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if config.FilePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[datastore] ", log.LstdFlags)
	}

	// Ensure directory exists
	dir := filepath.Dir(config.FilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	store := &DataStore{
		docs:   make(map[string]record),
		file:   config.FilePath,
		ctx:    ctx,
		cancel: cancel,
		config: config,
	}

	// Initialize empty file if it doesn't exist
	if _, err := os.Stat(config.FilePath); os.IsNotExist(err) {
		if err := store.writeFileAtomic([]byte("{}")); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create empty JSON file: %v", err)
		}
	} else if err == nil {
		if err := store.loadFromFile(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to load data from file: %v", err)
		}
	} else {
		cancel()
		return nil, fmt.Errorf("failed to check file existence: %v", err)
	}

	// Start background routines
	store.wg.Add(2)
	go store.autoSave()
	go store.handleShutdown()

	return store, nil
}

// Get retrieves a document and its current revision by id.
func (ds *DataStore) Get(id string) (json.RawMessage, string, error) {
	if err := ds.checkOpen(); err != nil {
		return nil, "", err
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()

	rec, exists := ds.docs[id]
	if !exists {
		return nil, "", ErrNotFound
	}
	return rec.Data, rec.Rev, nil
}

// Put writes a document under id. An empty rev means create: the write is
// rejected with ErrConflict if a document already exists (a concurrent create
// raced first). A non-empty rev must match the stored revision exactly.
// On success the new revision is returned.
func (ds *DataStore) Put(id string, value any, rev string) (string, error) {
	if err := ds.checkOpen(); err != nil {
		return "", err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document %s: %w", id, err)
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	current, exists := ds.docs[id]
	if rev == "" {
		if exists {
			return "", fmt.Errorf("create of existing document %s: %w", id, ErrConflict)
		}
	} else {
		if !exists {
			return "", fmt.Errorf("update of missing document %s: %w", id, ErrNotFound)
		}
		if current.Rev != rev {
			return "", fmt.Errorf("stale revision for document %s: %w", id, ErrConflict)
		}
	}

	newRev := nextRev(rev)
	ds.docs[id] = record{Rev: newRev, Data: data}
	return newRev, nil
}

// Delete removes a document. The presented revision must match the stored one.
func (ds *DataStore) Delete(id string, rev string) error {
	if err := ds.checkOpen(); err != nil {
		return err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	current, exists := ds.docs[id]
	if !exists {
		return fmt.Errorf("delete of missing document %s: %w", id, ErrNotFound)
	}
	if current.Rev != rev {
		return fmt.Errorf("stale revision for document %s: %w", id, ErrConflict)
	}

	delete(ds.docs, id)
	return nil
}

// Find returns all documents whose id starts with prefix and whose body
// satisfies match. A nil match selects every document under the prefix.
// Results are sorted by id so callers see a stable order.
func (ds *DataStore) Find(prefix string, match func(json.RawMessage) bool) ([]Document, error) {
	if err := ds.checkOpen(); err != nil {
		return nil, err
	}

	ds.mu.RLock()
	defer ds.mu.RUnlock()

	var out []Document
	for id, rec := range ds.docs {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if match != nil && !match(rec.Data) {
			continue
		}
		out = append(out, Document{ID: id, Rev: rec.Rev, Data: rec.Data})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len returns the number of stored documents.
func (ds *DataStore) Len() int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return len(ds.docs)
}

// SaveToFile forces an immediate save to disk
func (ds *DataStore) SaveToFile() error {
	if err := ds.checkOpen(); err != nil {
		return err
	}
	return ds.saveToFile()
}

// Close gracefully shuts down the DataStore
func (ds *DataStore) Close() error {
	ds.closeMu.Lock()
	if ds.closed {
		ds.closeMu.Unlock()
		return nil
	}
	ds.closed = true
	ds.closeMu.Unlock()

	// Cancel context to stop background routines
	ds.cancel()

	// Wait for all goroutines to finish
	ds.wg.Wait()

	// Final save
	return ds.saveToFile()
}

func (ds *DataStore) checkOpen() error {
	ds.closeMu.RLock()
	defer ds.closeMu.RUnlock()
	if ds.closed {
		return ErrClosed
	}
	return nil
}

// nextRev derives the successor revision token. Revisions are
// "<generation>-<opaque>"; the generation increments on every write so a
// revision still reads chronologically in dumps, while the uuid suffix keeps
// tokens unguessable across histories.
func nextRev(rev string) string {
	gen := 0
	if rev != "" {
		if i := strings.IndexByte(rev, '-'); i > 0 {
			if n, err := strconv.Atoi(rev[:i]); err == nil {
				gen = n
			}
		}
	}
	return fmt.Sprintf("%d-%s", gen+1, uuid.NewString())
}

// saveToFile saves data to disk with atomic write and integrity checking
func (ds *DataStore) saveToFile() error {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	// Marshal data
	data, err := json.MarshalIndent(ds.docs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %v", err)
	}

	// Calculate checksum
	checksum := ds.calculateChecksum(data)

	// Skip save if data hasn't changed
	if checksum == ds.lastChecksum {
		return nil
	}

	// Create backup if file exists
	if ds.config.BackupCount > 0 {
		if err := ds.createBackup(); err != nil {
			ds.config.Logger.Printf("Failed to create backup: %v", err)
		}
	}

	// Atomic write
	if err := ds.writeFileAtomic(data); err != nil {
		return err
	}

	// Verify the write
	if err := ds.verifyFile(data); err != nil {
		return fmt.Errorf("file verification failed: %v", err)
	}

	ds.lastChecksum = checksum
	return nil
}

// loadFromFile loads data from disk with validation
func (ds *DataStore) loadFromFile() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	data, err := os.ReadFile(ds.file)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var temp map[string]record
	if err := json.Unmarshal(data, &temp); err != nil {
		return fmt.Errorf("invalid JSON format: %v", err)
	}
	if temp == nil {
		temp = make(map[string]record)
	}

	ds.docs = temp
	ds.lastChecksum = ds.calculateChecksum(data)

	return nil
}

// writeFileAtomic performs atomic file write using temporary file and rename
func (ds *DataStore) writeFileAtomic(data []byte) error {
	tmpFile := ds.file + ".tmp"

	// Write to temporary file
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write to temp file: %v", err)
	}

	// Sync to ensure data is written to disk
	file, err := os.OpenFile(tmpFile, os.O_RDWR, 0644)
	if err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to open temp file for sync: %v", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("failed to sync temp file: %v", err)
	}
	file.Close()

	// Atomic rename
	if err := os.Rename(tmpFile, ds.file); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp file: %v", err)
	}

	return nil
}

// verifyFile verifies that the written file matches expected data
func (ds *DataStore) verifyFile(expectedData []byte) error {
	actualData, err := os.ReadFile(ds.file)
	if err != nil {
		return fmt.Errorf("failed to read file for verification: %v", err)
	}

	if ds.calculateChecksum(actualData) != ds.calculateChecksum(expectedData) {
		return fmt.Errorf("file checksum mismatch")
	}

	return nil
}

// createBackup creates a timestamped backup of the current file
func (ds *DataStore) createBackup() error {
	if _, err := os.Stat(ds.file); os.IsNotExist(err) {
		return nil // No file to backup
	}

	timestamp := time.Now().Format("20060102_150405")
	backupFile := fmt.Sprintf("%s.backup.%s", ds.file, timestamp)

	// Copy current file to backup
	src, err := os.Open(ds.file)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(backupFile)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}

	// Clean up old backups
	ds.cleanupOldBackups()

	return nil
}

// cleanupOldBackups removes old backup files beyond the configured limit
func (ds *DataStore) cleanupOldBackups() {
	pattern := ds.file + ".backup.*"
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}

	if len(matches) <= ds.config.BackupCount {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}

	var files []fileInfo
	for _, match := range matches {
		if info, err := os.Stat(match); err == nil {
			files = append(files, fileInfo{match, info.ModTime()})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	// Remove excess files
	toRemove := len(files) - ds.config.BackupCount
	for i := 0; i < toRemove; i++ {
		os.Remove(files[i].path)
	}
}

// autoSave runs the periodic save routine
func (ds *DataStore) autoSave() {
	defer ds.wg.Done()

	ticker := time.NewTicker(ds.config.AutoSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ds.ctx.Done():
			return
		case <-ticker.C:
			if err := ds.saveToFile(); err != nil {
				ds.config.Logger.Printf("Auto-save error: %v", err)
			}
		}
	}
}

// handleShutdown handles graceful shutdown on system signals
func (ds *DataStore) handleShutdown() {
	defer ds.wg.Done()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case <-ds.ctx.Done():
		return
	case <-c:
		ds.config.Logger.Println("Received shutdown signal, closing gracefully...")
		// Close waits on this goroutine's WaitGroup slot, so it must run
		// after we return.
		go ds.Close()
	}
}

// calculateChecksum computes SHA-256 checksum of data
func (ds *DataStore) calculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Stats returns statistics about the DataStore
func (ds *DataStore) Stats() map[string]any {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	return map[string]any{
		"documents": len(ds.docs),
		"file_path": ds.file,
		"last_save": ds.lastChecksum != "",
	}
}
