package fileInfo

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
)

func calculateSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Error("fail to close file", "error", err.Error())
		}
	}()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum), nil
}

func (n *FileNode) CalcChecksum() (string, error) {
	sum, err := calculateSHA256(n.Path)
	if err != nil {
		return "", err
	}
	n.Checksum = sum
	return sum, nil
}

func (n *FileNode) VerifySHA256(expectedChecksum string) (bool, error) {
	actual, err := n.CalcChecksum()
	if err != nil {
		return false, err
	}
	return actual == expectedChecksum, nil
}

// VerifyFile reports whether the file at path has the expected checksum.
func VerifyFile(path, expectedChecksum string) (bool, error) {
	actual, err := calculateSHA256(path)
	if err != nil {
		return false, err
	}
	return actual == expectedChecksum, nil
}
