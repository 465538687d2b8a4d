// Package cli implements the handscribe command tree.
//
//   - cobra_root.go  (root command, global flags, config resolution)
//   - logger.go      (zerolog setup)
//   - wire.go        (builds the local pipeline, the remote backend and the HTTP adapter)
//   - progress.go    (download progress logging)
//   - serve.go       (HTTP server with graceful shutdown)
//   - transcribe.go  (single image from the command line)
//   - check.go       (end-to-end smoke test)
//   - models.go      (cached weights listing)
package cli
