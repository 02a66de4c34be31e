// Command cipherlink-genkeys creates the shared key both endpoints load.
// The key file holds 32 raw random bytes and is written with permissions
// 0600; the hex form is printed so it can travel through CIPHERLINK_KEY.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/opd-ai/cipherlink/config"
	"github.com/opd-ai/cipherlink/crypto"
)

func main() {
	out := flag.String("out", config.DefaultKeyFile, "Where to write the key file")
	force := flag.Bool("force", false, "Overwrite an existing key file")
	flag.Parse()

	if err := run(*out, *force); err != nil {
		fmt.Fprintf(os.Stderr, "cipherlink-genkeys: %v\n", err)
		os.Exit(1)
	}
}

func run(out string, force bool) error {
	if !force {
		if _, err := os.Stat(out); err == nil {
			return fmt.Errorf("%s already exists (use -force to overwrite)", out)
		}
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveKeyFile(out, key); err != nil {
		return err
	}

	fmt.Printf("wrote %s\n", out)
	fmt.Printf("key: %s\n", key.Hex())
	return nil
}
