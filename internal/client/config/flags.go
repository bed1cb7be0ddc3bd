package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/groupchat/internal/flagx"
)

var knownFlags = []string{"-d", "-s", "-u", "-p", "-b", "-g", "-e", "-l", "-v", "-m", "-sp", "-t"}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-d string   database DSN
//	-s string   token secret
//	-u string   S3 access key
//	-p string   S3 secret key
//	-b string   S3 bucket
//	-g string   S3 region
//	-e string   S3 base endpoint
//	-l int      page size
//	-v string   log level
//	-m string   metrics listen address
//	-sp string  send policy
//	-t int      request timeout (in seconds)
//
// Only these flags are parsed; the rest of os.Args is left to other loaders.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	fs.StringVar(&cfg.SecretKey, "s", cfg.SecretKey, "token secret")
	fs.StringVar(&cfg.S3RootUser, "u", cfg.S3RootUser, "S3 access key")
	fs.StringVar(&cfg.S3RootPassword, "p", cfg.S3RootPassword, "S3 secret key")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3Region, "g", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3BaseEndpoint, "e", cfg.S3BaseEndpoint, "S3 base endpoint")
	fs.IntVar(&cfg.PageSize, "l", cfg.PageSize, "history page size")
	fs.StringVar(&cfg.LogLevel, "v", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address, empty to disable")
	fs.StringVar(&cfg.SendPolicy, "sp", cfg.SendPolicy, "send policy (insert_on_ack, await_stream)")
	timeout := fs.Int("t", int(cfg.RequestTimeout.Seconds()), "request timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RequestTimeout = time.Duration(*timeout) * time.Second
}
