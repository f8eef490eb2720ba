package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// identityPassEnv mirrors the teacher's MIXNETS_ENV_PASS: the passphrase
// sealing a node's identity never goes on the command line in scripts or
// process listings.
const identityPassEnv = "MESHNET_IDENTITY_PASS"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.meshnet"
	}
	return filepath.Join(home, ".meshnet")
}

func identityPassphrase() ([]byte, error) {
	pass := os.Getenv(identityPassEnv)
	if pass == "" {
		return nil, fmt.Errorf("identity passphrase missing: set %s", identityPassEnv)
	}
	return []byte(pass), nil
}
