// ticket-dev is a local helper for the ticket service.
//
//	ticket-dev token --user-id u1 [--ttl 1h]      mint a short-form bearer token
//	ticket-dev seal-key --key 0x...               encrypt a wallet private key
//	ticket-dev open-key --ciphertext .. --iv ..   decrypt a sealed wallet key
//
// JWT_SECRET and ENCRYPTION_KEY are read from the environment unless passed
// with --secret / --encryption-key.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/md-rashed-zaman/ticketledger/libs/auth"
	"github.com/md-rashed-zaman/ticketledger/libs/config"
	"github.com/md-rashed-zaman/ticketledger/libs/custody"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: ticket-dev <token|seal-key|open-key> [flags]")
	}
	switch args[0] {
	case "token":
		return runToken(args[1:], out)
	case "seal-key":
		return runSealKey(args[1:], out)
	case "open-key":
		return runOpenKey(args[1:], out)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runToken(args []string, out io.Writer) error {
	var userID, email, secret string
	var ttl time.Duration

	flagSet := pflag.NewFlagSet("token", pflag.ContinueOnError)
	flagSet.StringVar(&userID, "user-id", "", "caller id placed in the id claim")
	flagSet.StringVar(&email, "email", "", "optional email claim")
	flagSet.StringVar(&secret, "secret", config.String("JWT_SECRET", ""), "HS256 signing secret")
	flagSet.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if userID == "" {
		return errors.New("--user-id is required")
	}
	if secret == "" {
		return errors.New("--secret or JWT_SECRET is required")
	}

	now := time.Now()
	token, err := auth.SignHS256(auth.Claims{
		ID:    userID,
		Email: email,
		Iat:   now.Unix(),
		Exp:   now.Add(ttl).Unix(),
	}, secret)
	if err != nil {
		return err
	}
	if auth.Classify(token).Kind != auth.KindShortForm {
		return fmt.Errorf("token is %d chars; the service would treat it as long-form", len(token))
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func runSealKey(args []string, out io.Writer) error {
	var key, encryptionKey string

	flagSet := pflag.NewFlagSet("seal-key", pflag.ContinueOnError)
	flagSet.StringVar(&key, "key", "", "wallet private key (hex)")
	flagSet.StringVar(&encryptionKey, "encryption-key", config.String("ENCRYPTION_KEY", ""), "32-byte AES key")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if key == "" {
		return errors.New("--key is required")
	}
	sealer, err := custody.NewSealer(encryptionKey)
	if err != nil {
		return err
	}
	ciphertext, iv, err := sealer.Seal(key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "ciphertext=%s\niv=%s\n", ciphertext, iv)
	return err
}

func runOpenKey(args []string, out io.Writer) error {
	var ciphertext, iv, encryptionKey string

	flagSet := pflag.NewFlagSet("open-key", pflag.ContinueOnError)
	flagSet.StringVar(&ciphertext, "ciphertext", "", "sealed key (hex)")
	flagSet.StringVar(&iv, "iv", "", "iv (hex)")
	flagSet.StringVar(&encryptionKey, "encryption-key", config.String("ENCRYPTION_KEY", ""), "32-byte AES key")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	sealer, err := custody.NewSealer(encryptionKey)
	if err != nil {
		return err
	}
	plaintext, err := sealer.Open(ciphertext, iv)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, plaintext)
	return err
}
