package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/knadh/stuffbin"
)

// newConfigFile writes the embedded sample config to path. An existing
// file is never overwritten.
func newConfigFile(fs stuffbin.FileSystem, path string) error {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return fmt.Errorf("%s exists. Remove it to generate a new one", path)
	}

	b, err := fs.Read("/config.sample.toml")
	if err != nil {
		return fmt.Errorf("error reading sample config (is the binary stuffed?): %v", err)
	}
	return ioutil.WriteFile(path, b, 0644)
}
