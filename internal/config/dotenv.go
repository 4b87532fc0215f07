package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoadEnvFiles copies variables from .env and .env.local in dir into the
// process environment. Variables already set are left untouched, and
// .env.local only fills what .env did not.
func LoadEnvFiles(dir string) error {
	for _, name := range []string{".env", ".env.local"} {
		if err := applyEnvFile(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	// viper lowercases keys; environment variable names are upper case.
	for key, value := range v.AllSettings() {
		name := strings.ToUpper(key)
		if _, exists := os.LookupEnv(name); exists {
			continue
		}
		if err := os.Setenv(name, fmt.Sprint(value)); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}
