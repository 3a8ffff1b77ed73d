package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"bloodhub/internal/actortoken"
	"bloodhub/services/bloodhub/internal/config"
)

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run mints a token for the phone in args using the service's token settings.
func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "bloodhub config file (defaults to config.yaml)")
	ttl := fs.Duration("ttl", actortoken.DefaultTokenTTL, "token lifetime")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: issue-token [-config path] [-ttl 12h] <phone>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	signer, err := actortoken.NewSigner(actortoken.Options{
		Secret: cfg.TokenSecret,
		Issuer: cfg.TokenIssuer,
		TTL:    *ttl,
	})
	if err != nil {
		return err
	}
	token, err := signer.Sign(fs.Arg(0))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}
