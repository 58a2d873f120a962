package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumManifest is the on-disk .checksums file guarding config integrity.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// WriteChecksum computes the config file's BLAKE3 hash and writes the
// .checksums manifest next to it ("config lock").
func WriteChecksum(configFile string) error {
	hash, err := ComputeBlake3Hash(configFile)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", filepath.Base(configFile), err)
	}

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes: map[string]string{
			filepath.Base(configFile): hash,
		},
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal checksums: %w", err)
	}

	// Restrictive permissions: the manifest holds expected hashes.
	checksumPath := filepath.Join(filepath.Dir(configFile), ".checksums")
	if err := os.WriteFile(checksumPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write checksums: %w", err)
	}
	return nil
}

// verifyConfigHash checks the config file against its .checksums manifest.
// A missing manifest is not an error; integrity checking is opt-in via
// "terraflow config lock".
func verifyConfigHash(configFile string) error {
	checksumPath := filepath.Join(filepath.Dir(configFile), ".checksums")

	data, err := os.ReadFile(checksumPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}

	expected, ok := manifest.Hashes[filepath.Base(configFile)]
	if !ok {
		return fmt.Errorf("config file %s has no hash in checksums (run 'terraflow config lock')", filepath.Base(configFile))
	}

	if err := VerifyFileHash(configFile, expected); err != nil {
		return fmt.Errorf("config integrity verification failed: %w\n"+
			"If you edited the config intentionally, run: terraflow config lock", err)
	}
	return nil
}
