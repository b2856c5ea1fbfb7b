// Package dotenv loads local .env files before configuration is read.
package dotenv

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadFiles loads KEY=VALUE pairs from each dotenv file into the process
// environment. Missing files are skipped and variables that are already set
// keep their value, so earlier paths win over later ones.
func LoadFiles(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %q: %w", path, err)
		}
	}
	return nil
}
