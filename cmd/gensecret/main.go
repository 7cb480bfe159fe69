package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const (
	SecretKeyBytesLen = 32

	// Hex encoded key of 16 bytes is 32 chars, the least labtrack accepts
	minSecretKeyBytesLen = 16
)

func main() {
	fs := pflag.NewFlagSet("gensecret", pflag.ExitOnError)
	size := fs.IntP("bytes", "b", SecretKeyBytesLen, "Random bytes in key, printed hex encoded")
	_ = fs.Parse(os.Args[1:])

	key, err := generate(rand.Reader, *size)
	if err != nil {
		fmt.Printf("error while generating secret key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(key)
}

func generate(r io.Reader, size int) (string, error) {
	if size < minSecretKeyBytesLen {
		return "", fmt.Errorf("key must have at least %d bytes", minSecretKeyBytesLen)
	}

	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
