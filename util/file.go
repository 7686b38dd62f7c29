package util

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// WriteJson writes a JSON config object to a file creating parent directories
// if required. The write is atomic: content goes to a temp file in the target
// directory first and is renamed into place.
func WriteJson(file string, obj interface{}) error {
	configDir, configFileName, err := prepareConfigFileDir(file)
	if err != nil {
		return err
	}

	// make it pretty
	bs, err := json.MarshalIndent(obj, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tempFile, err := os.CreateTemp(configDir, ".*"+configFileName)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}

	tempFileName := tempFile.Name()

	if err := os.Chmod(tempFileName, 0600); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempFileName)
		return fmt.Errorf("set temp file permissions: %w", err)
	}

	if _, err = tempFile.Write(bs); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write: %w", err)
	}

	if err = tempFile.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tempFileName, err)
	}

	defer func() {
		if _, err := os.Stat(tempFileName); err == nil {
			if rmErr := os.Remove(tempFileName); rmErr != nil {
				log.Warnf("failed to remove temp file %s: %v", tempFileName, rmErr)
			}
		}
	}()

	if err = os.Rename(tempFileName, file); err != nil {
		return fmt.Errorf("move %s to %s: %w", tempFileName, file, err)
	}

	return nil
}

// ReadJson reads JSON config file and maps to a provided interface
func ReadJson(file string, res interface{}) (interface{}, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bs, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(bs, &res)
	if err != nil {
		return nil, err
	}

	return res, nil
}

// CopyFileContents copies contents of the given src file to the dst file
func CopyFileContents(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return
	}
	defer func() {
		cerr := in.Close()
		if err == nil {
			err = cerr
		}
	}()

	out, err := os.Create(dst)
	if err != nil {
		return
	}
	defer func() {
		cerr := out.Close()
		if err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return
	}
	err = out.Sync()
	return
}

func prepareConfigFileDir(file string) (string, string, error) {
	configDir, configFileName := filepath.Split(file)
	if configDir == "" {
		return filepath.Dir(file), configFileName, nil
	}

	err := os.MkdirAll(configDir, 0750)
	if err != nil {
		return "", "", err
	}

	return configDir, configFileName, err
}
