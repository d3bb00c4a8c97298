// Command keytool manages the authority key and signs API requests.
//
//	keytool encrypt -out authority.key        (key from STAKEFUND_KEY, password from STAKEFUND_KEY_PASSWORD)
//	keytool address -key-file authority.key
//	keytool sign -method POST -path /api/markets -body body.json
//
// sign prints the X-Address, X-Timestamp and X-Signature headers for one
// request.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alanyoungcy/stakefund/internal/crypto"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "encrypt":
		err = encrypt(os.Args[2:])
	case "address":
		err = address(os.Args[2:])
	case "sign":
		err = sign(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "keytool: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: keytool encrypt|address|sign [flags]")
	os.Exit(2)
}

// keyFlags registers the flags that locate a key.
func keyFlags(fs *flag.FlagSet) *crypto.KeyConfig {
	cfg := &crypto.KeyConfig{}
	fs.StringVar(&cfg.EncryptedKeyPath, "key-file", "", "encrypted key file")
	cfg.RawPrivateKey = os.Getenv("STAKEFUND_KEY")
	cfg.KeyPassword = os.Getenv("STAKEFUND_KEY_PASSWORD")
	return cfg
}

func encrypt(args []string) error {
	fs := flag.NewFlagSet("encrypt", flag.ExitOnError)
	out := fs.String("out", "authority.key", "output file")
	_ = fs.Parse(args)

	key := os.Getenv("STAKEFUND_KEY")
	password := os.Getenv("STAKEFUND_KEY_PASSWORD")
	if key == "" || password == "" {
		return fmt.Errorf("set STAKEFUND_KEY and STAKEFUND_KEY_PASSWORD")
	}
	data, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s for %s\n", *out, signer.Address().Hex())
	return nil
}

func address(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	kc := keyFlags(fs)
	_ = fs.Parse(args)

	signer, err := crypto.LoadSigner(*kc)
	if err != nil {
		return err
	}
	fmt.Println(signer.Address().Hex())
	return nil
}

func sign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	kc := keyFlags(fs)
	method := fs.String("method", "POST", "HTTP method")
	path := fs.String("path", "", "request path, e.g. /api/markets")
	bodyFile := fs.String("body", "", "file holding the request body")
	_ = fs.Parse(args)

	if *path == "" {
		return fmt.Errorf("-path is required")
	}
	var body []byte
	if *bodyFile != "" {
		b, err := os.ReadFile(*bodyFile)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		body = b
	}

	signer, err := crypto.LoadSigner(*kc)
	if err != nil {
		return err
	}
	ts := time.Now().Unix()
	sig, err := signer.SignRequest(strings.ToUpper(*method), *path, ts, body)
	if err != nil {
		return err
	}
	fmt.Printf("X-Address: %s\nX-Timestamp: %d\nX-Signature: %s\n", signer.Address().Hex(), ts, sig)
	return nil
}
