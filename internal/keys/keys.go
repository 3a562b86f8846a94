// Package keys implements the `jroll genkey`/`jroll test-keys` support
// commands for the optional dump-encryption-in-transit feature:
// generating an age X25519 key pair, and verifying that a held
// private identity actually decrypts for a project's configured
// recipient.
package keys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"

	"jroll/internal/config"
	"jroll/internal/cryptoutil"
)

// Generate prints a freshly minted age key pair to stdout. The public
// key is meant to go into a project's `encrypt:` field; the private
// key must be kept by the operator in a file whose path is supplied at
// decrypt time via JROLL_AGE_IDENTITY.
func Generate(_ context.Context) error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	fmt.Println("Public key (put this in the project's `encrypt:` field):")
	fmt.Println(identity.Recipient().String())
	fmt.Println("\nPrivate key (keep this secret; save it to a file and set JROLL_AGE_IDENTITY to that file's path):")
	fmt.Println(identity.String())
	return nil
}

// Test verifies that the private key at privateKeyPath is the
// matching identity for projectName's configured `encrypt:` recipient,
// by round-tripping a throwaway file through cryptoutil.
func Test(_ context.Context, configPath, projectName, privateKeyPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	project, err := cfg.Project(projectName)
	if err != nil {
		return err
	}
	if project.Encrypt == "" {
		return fmt.Errorf("project %s has no `encrypt:` recipient configured", projectName)
	}

	recipient, err := cryptoutil.ParseRecipient(project.Encrypt)
	if err != nil {
		return fmt.Errorf("parsing configured recipient: %w", err)
	}

	keyData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return fmt.Errorf("reading private key: %w", err)
	}
	identity, err := cryptoutil.ParseIdentity(strings.TrimSpace(string(keyData)))
	if err != nil {
		return fmt.Errorf("parsing private key: %w", err)
	}

	tempDir, err := os.MkdirTemp("", "jroll-test-keys")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tempDir)

	plain := filepath.Join(tempDir, "probe.txt")
	content := "jroll key pair test " + time.Now().Format(time.RFC3339)
	if err := os.WriteFile(plain, []byte(content), 0o644); err != nil {
		return err
	}

	encrypted := filepath.Join(tempDir, "probe.txt.age")
	if err := cryptoutil.EncryptFile(plain, encrypted, recipient); err != nil {
		return fmt.Errorf("encrypting probe: %w", err)
	}

	decrypted := filepath.Join(tempDir, "probe.txt.out")
	if err := cryptoutil.DecryptFile(encrypted, decrypted, identity); err != nil {
		return fmt.Errorf("decrypting probe: %w (private key does not match project %s's recipient)", err, projectName)
	}

	got, err := os.ReadFile(decrypted)
	if err != nil {
		return err
	}
	if string(got) != content {
		return fmt.Errorf("probe content mismatch after round-trip")
	}

	fmt.Printf("private key matches project %s's configured recipient\n", projectName)
	return nil
}
