package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"biin_lookup/mobicard"
	"biin_lookup/utils"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrLookupFailed = merry.New("lookup failed")

type outputFormat string

const (
	formatText outputFormat = "text"
	formatJSON outputFormat = "json"
)

func printLookupResult(wr io.Writer, res mobicard.LookupResult, format outputFormat) error {
	if format == formatJSON {
		enc := json.NewEncoder(wr)
		enc.SetIndent("", "  ")
		return merry.Wrap(enc.Encode(res))
	}

	var err error
	if res.IsSuccess() {
		_, err = fmt.Fprintf(wr, "BIIN Lookup Successful!\n"+
			"Card Scheme: %s\nIssuer Bank: %s\nCard Type: %s\nCountry: %s\nPrepaid: %s\n",
			res.CardScheme, res.IssuerBank, res.CardType, res.Country, res.IsPrepaid)
		if err == nil && res.IsPrepaid == "Yes" {
			_, err = fmt.Fprintln(wr, "Note: Prepaid card detected - apply appropriate risk rules.")
		}
	} else if res.StatusCode != "" {
		_, err = fmt.Fprintf(wr, "Error: %s (code %s)\n", res.Message(), res.StatusCode)
	} else {
		_, err = fmt.Fprintf(wr, "Error: %s\n", res.Message())
	}
	return merry.Wrap(err)
}

func makeClient(endpoint, caCertFPath string, timeout time.Duration) (*mobicard.Client, error) {
	creds, err := loadCredentials()
	if err != nil {
		return nil, merry.Wrap(err)
	}
	client := &mobicard.Client{Credentials: creds, Endpoint: endpoint, Timeout: timeout}
	if caCertFPath != "" {
		buf, err := os.ReadFile(caCertFPath)
		if err != nil {
			return nil, merry.Wrap(err)
		}
		client.ExtraRootCAsPEM = string(buf)
	}
	if err := client.Init(); err != nil {
		return nil, merry.Wrap(err)
	}
	return client, nil
}

func run(env utils.Env, serverAddr string, format outputFormat, endpoint, caCertFPath string, timeout time.Duration, args []string) error {
	if len(args) == 0 {
		return merry.New("command is required: init-credentials, lookup or server")
	}
	command, args := args[0], args[1:]

	if command == "init-credentials" {
		return initCredentials(args...)
	}

	client, err := makeClient(endpoint, caCertFPath, timeout)
	if err != nil {
		return merry.Wrap(err)
	}

	switch command {
	case "lookup":
		if len(args) != 1 {
			return merry.Errorf("exactly one argument (card number, BIN or BIIN) is required for lookup, got %d", len(args))
		}
		res := client.Lookup(context.Background(), args[0])
		if err := printLookupResult(os.Stdout, res, format); err != nil {
			return merry.Wrap(err)
		}
		if !res.IsSuccess() {
			return ErrLookupFailed.Here()
		}
		return nil
	case "server":
		return StartHTTPServer(client, env, serverAddr)
	default:
		return merry.Errorf("unknown command: %s", command)
	}
}

func main() {
	env := utils.Env{Val: "prod"}
	format := utils.OptionValue[outputFormat]{
		Options: []outputFormat{formatText, formatJSON},
		ToStr:   func(f outputFormat) string { return string(f) },
	}
	var serverAddr, endpoint, caCertFPath string
	var timeout time.Duration
	flag.Var(&env, "env", "environment, dev or prod")
	flag.StringVar(&serverAddr, "addr", "127.0.0.1:9020", "HTTP server address:port")
	flag.Var(&format, "format", "lookup output format: "+format.JoinStrings(", "))
	flag.StringVar(&endpoint, "endpoint", mobicard.DefaultEndpoint, "BIIN lookup service URL")
	flag.StringVar(&caCertFPath, "ca-cert", "", "PEM file with extra trusted CA certificate(s)")
	flag.DurationVar(&timeout, "timeout", mobicard.DefaultTimeout, "lookup request timeout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] init-credentials <merchantID> <apiKey> <secretKey> | lookup <card> | server\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	outFormat := formatText
	if format.Value != nil {
		outFormat = *format.Value
	}

	// Logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.ErrorStackMarshaler = func(err error) interface{} { return merry.Details(err) }
	zerolog.ErrorStackFieldName = "message" //TODO: https://github.com/rs/zerolog/issues/157
	zerolog.SetGlobalLevel(env.LogLevel())
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05.000"})

	if err := run(env, serverAddr, outFormat, endpoint, caCertFPath, timeout, flag.Args()); err != nil {
		if merry.Is(err, ErrLookupFailed) {
			os.Exit(1)
		}
		log.Fatal().Stack().Err(err).Msg("")
	}
}
