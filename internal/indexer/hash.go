package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// FileHash computes the SHA-256 hash of a file's content.
func FileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Fingerprint hashes every file in paths. A missing file is reported with an
// empty hash rather than an error, since disappearing dependencies are a
// normal reason for staleness.
func Fingerprint(paths []string) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		h, err := FileHash(p)
		if err != nil {
			if os.IsNotExist(err) {
				out[p] = ""
				continue
			}
			return nil, err
		}
		out[p] = h
	}
	return out, nil
}
