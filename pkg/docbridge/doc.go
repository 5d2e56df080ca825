// Package docbridge provides types, interfaces, and helpers for exchanging
// records with a document-oriented resource API whose schema and
// authentication requirements are only known at run time.
//
// # Overview
//
// The docbridge package defines the configuration (Config), the failure
// taxonomy (Error, ErrorKind and the Err* sentinels), the classifier that turns
// server error envelopes into that taxonomy, and the result types of schema
// probing and bulk creation. A concrete client is provided by the bridge
// package, which wires transport, credential discovery and schema probing:
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/fivetwenty-io/docbridge/pkg/bridge"
//	  "github.com/fivetwenty-io/docbridge/pkg/docbridge"
//	)
//
//	func example() {
//	  ctx := context.Background()
//	  cfg := docbridge.DefaultConfig()
//	  cfg.BaseURL = "https://erp.example.com"
//	  cfg.AuthToken = "token key:secret"
//	  cfg.Resource = "HD Ticket"
//	  cfg.FallbackResources = []string{"Issue"}
//	  cfg.FallbackMode = true
//
//	  cli, err := bridge.New(ctx, cfg)
//	  if err != nil { log.Fatal(err) }
//
//	  result, err := cli.BulkCreate(ctx, records, docbridge.BulkOptions{BatchSize: 10})
//	  if err != nil { log.Fatal(err) }
//	  _ = result
//	}
//
// # Errors
//
// Every failure surfaced by a client is a *Error. Use errors.Is with the
// sentinels, or helpers such as IsSchemaMissing and IsTimeout, to branch on the
// kind. Retryable decides whether a bulk item may be attempted again.
//
// # Sessions
//
// A client's configuration is never mutated in place. Reconfigure swaps in a new
// session, and the security token, resource probes and system info of the old
// session become unreachable.
package docbridge
