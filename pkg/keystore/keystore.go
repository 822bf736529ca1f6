// Package keystore persists per-wallet secret share material, encrypted
// at rest and safe across process restarts.
package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Sentinel errors surfaced to callers. Password values never appear in
// error messages.
var (
	ErrNotFound        = errors.New("wallet not found")
	ErrInvalidPassword = errors.New("invalid password")
	ErrCorrupted       = errors.New("wallet data corrupted")
	ErrVersionMismatch = errors.New("unsupported wallet record version")
)

const (
	walletFileExt = ".wallet"
	indexFileName = "index.json"
)

// Keystore stores one encrypted blob per wallet under a directory, plus a
// plaintext metadata index for password-free listing. It is accessed only
// from the orchestrator goroutine; the mutex guards the index against
// concurrent listing from tests and tooling.
type Keystore struct {
	path       string
	iterations int
	logger     *zap.Logger

	mu    sync.Mutex
	index map[string]*WalletMetadata
}

// Open opens (or creates) a keystore directory and loads its index
func Open(path string, iterations int, logger *zap.Logger) (*Keystore, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, errors.Wrapf(err, "failed to create keystore directory %s", path)
	}

	ks := &Keystore{
		path:       path,
		iterations: iterations,
		logger:     logger,
		index:      make(map[string]*WalletMetadata),
	}
	if err := ks.loadIndex(); err != nil {
		return nil, err
	}

	logger.Sugar().Infow("Keystore opened", "path", path, "wallets", len(ks.index))
	return ks, nil
}

// List returns metadata for every stored wallet, sorted by wallet id
func (ks *Keystore) List() []*WalletMetadata {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	out := make([]*WalletMetadata, 0, len(ks.index))
	for _, meta := range ks.index {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WalletID < out[j].WalletID })
	return out
}

// Has reports whether a wallet id is present
func (ks *Keystore) Has(walletID string) bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	_, ok := ks.index[walletID]
	return ok
}

// LoadWallet decrypts and validates a stored wallet record
func (ks *Keystore) LoadWallet(walletID, password string) (*WalletRecord, error) {
	blob, err := os.ReadFile(ks.walletPath(walletID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to read wallet file")
	}

	plaintext, err := Decrypt(blob, password, ks.iterations)
	if err != nil {
		return nil, err
	}

	record, err := unmarshalWalletRecord(plaintext)
	if err != nil {
		return nil, err
	}
	if record.WalletID != walletID {
		ks.logger.Sugar().Warnw("Wallet file id mismatch", "expected", walletID, "found", record.WalletID)
		return nil, ErrCorrupted
	}
	return record, nil
}

// SaveWallet encrypts and atomically writes a wallet record, then updates
// the metadata index.
func (ks *Keystore) SaveWallet(record *WalletRecord, password string) error {
	plaintext, err := marshalWalletRecord(record)
	if err != nil {
		return err
	}

	blob, err := Encrypt(plaintext, password, ks.iterations)
	if err != nil {
		return errors.Wrap(err, "failed to encrypt wallet record")
	}

	if err := atomicWrite(ks.walletPath(record.WalletID), blob, 0o600); err != nil {
		return errors.Wrap(err, "failed to write wallet file")
	}

	ks.mu.Lock()
	ks.index[record.WalletID] = record.Metadata()
	ks.mu.Unlock()

	if err := ks.saveIndex(); err != nil {
		return err
	}

	ks.logger.Sugar().Infow("Wallet saved",
		"wallet_id", record.WalletID,
		"curve", record.Curve,
		"total", record.Total,
		"threshold", record.Threshold)
	return nil
}

// DeleteWallet removes a wallet blob and its index entry
func (ks *Keystore) DeleteWallet(walletID string) error {
	err := os.Remove(ks.walletPath(walletID))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "failed to delete wallet file")
	}

	ks.mu.Lock()
	delete(ks.index, walletID)
	ks.mu.Unlock()

	return ks.saveIndex()
}

func (ks *Keystore) walletPath(walletID string) string {
	return filepath.Join(ks.path, walletID+walletFileExt)
}

func (ks *Keystore) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(ks.path, indexFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read keystore index")
	}

	var entries []*WalletMetadata
	if err := json.Unmarshal(data, &entries); err != nil {
		// A damaged index is rebuilt lazily as wallets are saved; the
		// encrypted blobs remain the source of truth.
		ks.logger.Sugar().Warnw("Keystore index unreadable, starting empty", "error", err)
		return nil
	}
	for _, meta := range entries {
		ks.index[meta.WalletID] = meta
	}
	return nil
}

func (ks *Keystore) saveIndex() error {
	ks.mu.Lock()
	entries := make([]*WalletMetadata, 0, len(ks.index))
	for _, meta := range ks.index {
		entries = append(entries, meta)
	}
	ks.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].WalletID < entries[j].WalletID })
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal keystore index")
	}
	return errors.Wrap(atomicWrite(filepath.Join(ks.path, indexFileName), data, 0o600), "failed to write keystore index")
}

// atomicWrite writes via a temp file in the same directory, fsyncs, and
// renames into place.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
