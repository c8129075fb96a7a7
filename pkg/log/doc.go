// Package log is the logging abstraction accepted by keylink.
//
// Logger is the interface every keylink component logs through. Any logging
// library can sit behind it; a zerolog implementation and a no-op logger are
// provided.
//
// # Usage
//
//	logger := log.NewZerolog("debug")
//	client, err := keylink.New(cfg, keylink.WithLogger(logger))
//
// Or wrap an existing zerolog.Logger:
//
//	logger := log.NewZerologWithLogger(zerolog.New(os.Stderr))
package log
