// ABOUTME: End-to-end encryption setup for the Matrix bridge.
// ABOUTME: Manages the crypto store lifecycle and device id recovery.

package matrix

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// cryptoManager holds the E2EE helper wired into the Matrix client.
type cryptoManager struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// setupCrypto enables end-to-end encryption for the client. The crypto store
// is a per-account SQLite database under stateDir. A stored device id that no
// longer matches the client's forces a store reset before init, since stale
// device keys would otherwise wedge decryption. An empty recovery key leaves
// encryption on but skips cross-signing.
func setupCrypto(ctx context.Context, client *mautrix.Client, recoveryKey, stateDir string, logger *slog.Logger) (*cryptoManager, error) {
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	userID := client.UserID.String()
	dbPath := filepath.Join(stateDir, fmt.Sprintf("matrix-crypto-%s.db", slugify(userID)))
	logger.Info("setting up encryption", "db", dbPath)

	helper, err := initCryptoHelper(ctx, client, deriveStoreKey(userID), dbPath, logger)
	if err != nil {
		return nil, err
	}

	// Routes outgoing events through the helper so encrypted rooms get
	// encrypted payloads automatically
	client.Crypto = helper

	cm := &cryptoManager{helper: helper, logger: logger}

	if recoveryKey == "" {
		logger.Info("encryption enabled without cross-signing, no recovery key configured")
		return cm, nil
	}
	if err := cm.verifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		// Encryption still works without cross-signing, so warn and continue
		logger.Warn("recovery key verification failed", "error", err)
		return cm, nil
	}
	logger.Info("device cross-signed with recovery key")
	return cm, nil
}

// verifyWithRecoveryKey cross-signs this device using the account's recovery
// key so other clients show it as verified.
func (cm *cryptoManager) verifyWithRecoveryKey(ctx context.Context, recoveryKey string) error {
	machine := cm.helper.Machine()
	if machine == nil {
		return fmt.Errorf("crypto machine not initialized")
	}
	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		return fmt.Errorf("verifying with recovery key: %w", err)
	}
	return nil
}

// Close releases the crypto store.
func (cm *cryptoManager) Close() error {
	if cm == nil || cm.helper == nil {
		return nil
	}
	return cm.helper.Close()
}

// initCryptoHelper creates and initializes the crypto helper, resetting the
// store first when the stored device id does not match the client's. The
// check runs before NewCryptoHelper to avoid deleting a database the helper
// already holds open.
func initCryptoHelper(ctx context.Context, client *mautrix.Client, storeKey []byte, dbPath string, logger *slog.Logger) (*cryptohelper.CryptoHelper, error) {
	if mismatch, err := deviceIDMismatch(dbPath, client.DeviceID.String()); err != nil {
		logger.Debug("could not check stored device id", "error", err)
	} else if mismatch {
		logger.Warn("device id changed, resetting crypto store")
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale crypto store: %w", err)
		}
		_ = os.Remove(dbPath + "-wal")
		_ = os.Remove(dbPath + "-shm")
	}

	helper, err := cryptohelper.NewCryptoHelper(client, storeKey, dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	return helper, nil
}

// deviceIDMismatch reports whether the crypto store exists and was written
// for a different device id than the current one.
func deviceIDMismatch(dbPath, currentDeviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return stored != currentDeviceID, nil
}

// slugify converts a Matrix user id into a filesystem-safe name, e.g.
// @familiar:example.org becomes familiar_example.org.
func slugify(userID string) string {
	s := userID
	if len(s) > 0 && s[0] == '@' {
		s = s[1:]
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			out = append(out, c)
		case c == ':':
			out = append(out, '_')
		}
	}
	return string(out)
}

// deriveStoreKey derives the crypto store's encryption key from the user id,
// keeping stores for different accounts mutually unreadable without any
// extra secret to configure.
func deriveStoreKey(userID string) []byte {
	h := sha256.Sum256([]byte("familiar-matrix-crypto:" + userID))
	return h[:]
}
