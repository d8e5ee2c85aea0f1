package util

import (
	"fmt"
	"os"
)

func CheckDirectory(path string) (exists bool, isDir bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, info.IsDir(), nil
}

// EnsureOutputDir creates path if needed and fails if it is not a directory.
func EnsureOutputDir(path string) error {
	exists, isDir, err := CheckDirectory(path)
	if err != nil {
		return err
	}
	if exists && !isDir {
		return fmt.Errorf("%s is not a directory", path)
	}
	if !exists {
		return os.MkdirAll(path, 0o755)
	}
	return nil
}
