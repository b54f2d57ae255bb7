// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"os"

	"github.com/BurntSushi/toml"
)

// fileConfig holds the values a TOML config file may set. A file value is
// used only where the matching flag was left at its default (an empty
// string, or false for sql_index), so a flag set to a non-default value
// takes precedence; --sql-index=false does not switch off sql_index = true
// from the file.
type fileConfig struct {
	PoolPath string `toml:"pool_path"`
	Format   string `toml:"format"`
	SQLIndex bool   `toml:"sql_index"`
}

// loadFileConfig reads a TOML config file, if path is non-empty and exists.
// A missing path is not an error: the CLI runs fine on flags alone.
func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	_, err := toml.DecodeFile(path, &cfg)
	return cfg, err
}
