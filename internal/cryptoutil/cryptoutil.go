// Package cryptoutil provides the optional dump-in-transit encryption
// used when a project sets Encrypt.
package cryptoutil

import (
	"io"
	"os"

	"filippo.io/age"
)

// EncryptFile encrypts inputFile to outputFile for recipient.
func EncryptFile(inputFile, outputFile string, recipient age.Recipient) error {
	in, err := os.Open(inputFile)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(outputFile)
	if err != nil {
		return err
	}
	defer out.Close()

	w, err := age.Encrypt(out, recipient)
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, in); err != nil {
		return err
	}

	return w.Close()
}

// DecryptFile decrypts inputFile to outputFile using identity.
func DecryptFile(inputFile, outputFile string, identity age.Identity) error {
	in, err := os.Open(inputFile)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(outputFile)
	if err != nil {
		return err
	}
	defer out.Close()

	r, err := age.Decrypt(in, identity)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, r)
	return err
}

// ParseRecipient parses a single age recipient string (an X25519
// public key such as `age1...`), as stored in Project.Encrypt.
func ParseRecipient(s string) (age.Recipient, error) {
	return age.ParseX25519Recipient(s)
}

// ParseIdentity parses a single age identity string (an X25519
// private key such as `AGE-SECRET-KEY-1...`).
func ParseIdentity(s string) (age.Identity, error) {
	return age.ParseX25519Identity(s)
}
