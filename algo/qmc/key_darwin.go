//go:build darwin

package qmc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"unlock-music.dev/mmkv"
)

// streamKeyVault is the QQ Music macOS client's MMKV vault holding one
// wrapped EKey entry per track. Opened lazily on the first lookup (or
// explicitly via OpenMMKV) and shared by every lookup after that.
var streamKeyVault mmkv.Vault

func init() { mmkvReadKey = readKeyFromMMKV }

// OpenMMKV opens a caller-specified MMKV vault instead of the client's
// default store. vaultKey is the vault password; an empty string opens the
// vault as unencrypted. Subsequent key lookups use the opened vault.
func OpenMMKV(vaultPath string, vaultKey string, logger *zap.Logger) error {
	filePath, fileName := filepath.Split(vaultPath)
	mgr, err := mmkv.NewManager(filePath)
	if err != nil {
		return fmt.Errorf("qmc: init mmkv manager: %w", err)
	}

	streamKeyVault, err = mgr.OpenVaultCrypto(fileName, vaultKey)
	if err != nil {
		return fmt.Errorf("qmc: open mmkv vault: %w", err)
	}
	logger.Debug("mmkv vault opened", zap.String("path", vaultPath))
	return nil
}

// readKeyFromMMKV recovers a QMCv2 key from the client's MMKV store: the
// client persists a base64-wrapped EKey blob per track, keyed by its own
// path for the file, so the lookup tries the full path first and falls
// back to a file-name suffix scan over the vault's keys.
func readKeyFromMMKV(file string, logger *zap.Logger) ([]byte, error) {
	if streamKeyVault == nil {
		mmkvDir, err := defaultMMKVStoreDir()
		if err != nil {
			return nil, err
		}
		mgr, err := mmkv.NewManager(mmkvDir)
		if err != nil {
			return nil, fmt.Errorf("qmc: init mmkv manager: %w", err)
		}
		streamKeyVault, err = mgr.OpenVault("MMKVStreamEncryptId")
		if err != nil {
			return nil, fmt.Errorf("qmc: open mmkv vault: %w", err)
		}
	}

	buf, err := streamKeyVault.GetBytes(file)
	if err != nil || len(buf) == 0 {
		fileName := filepath.Base(file)
		for _, entry := range streamKeyVault.Keys() {
			if !strings.HasSuffix(entry, fileName) {
				continue
			}
			buf, err = streamKeyVault.GetBytes(entry)
			if err != nil || len(buf) == 0 {
				continue
			}
			logger.Warn("mmkv key matched by file name only", zap.String("entry", entry))
			break
		}
	}
	if err != nil || len(buf) == 0 {
		return nil, errors.New("qmc: no matching mmkv entry")
	}

	decoded, err := DecodeBase64Key(buf)
	if err != nil {
		return nil, fmt.Errorf("qmc: decode mmkv key: %w", err)
	}
	return DecryptKey(decoded)
}

func defaultMMKVStoreDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("qmc: resolve home dir: %w", err)
	}
	dir := filepath.Join(home,
		"Library/Containers/com.tencent.QQMusicMac/Data",
		"Library/Application Support/QQMusicMac/mmkv")
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("qmc: locate default mmkv store: %w", err)
	}
	return dir, nil
}
