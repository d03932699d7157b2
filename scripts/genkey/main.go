// genkey generates a checkpoint integrity key for kairo.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go
//
// Writes data/checkpoint.key (mode 0600) containing 32 random bytes, hex
// encoded. Set KAIRO_CHECKPOINT_KEY to its contents so that checkpoints
// persisted with KAIRO_CHECKPOINT_DB still verify after a restart.
//
// The server generates an ephemeral key when KAIRO_CHECKPOINT_KEY is unset;
// checkpoints written under an ephemeral key fail verification on restore
// after the process restarts.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	dir := "data"
	keyPath := filepath.Join(dir, "checkpoint.key")

	if err := os.MkdirAll(dir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot create %s: %v\n", dir, err)
		os.Exit(1)
	}

	// Rotating the key invalidates every stored checkpoint.
	if _, err := os.Stat(keyPath); err == nil {
		fmt.Fprintf(os.Stderr, "error: %s already exists, delete it first if you want to rotate the key\n", keyPath)
		os.Exit(1)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		fmt.Fprintf(os.Stderr, "error: generate key: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "error: write %s: %v\n", keyPath, err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s\n", keyPath)
	fmt.Println("export KAIRO_CHECKPOINT_KEY=$(cat data/checkpoint.key)")
}
