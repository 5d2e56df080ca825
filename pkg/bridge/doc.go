// Package bridge is the entry point for constructing a docbridge.Client.
//
// It wires the request executor, the credential resolver, the schema probe and
// the bulk pipeline behind one session, and selects the token store.
//
// Quick start
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
//
//	  cfg := docbridge.DefaultConfig()
//	  cfg.BaseURL = "https://erp.example.com"
//	  cfg.AuthToken = "token api_key:api_secret"
//	  cfg.Resource = "HD Ticket"
//	  cfg.FallbackResources = []string{"Issue", "ToDo"}
//	  cfg.FallbackMode = true
//
//	  cli, err := bridge.New(ctx, cfg, bridge.WithStore(&bridge.StoreConfig{Type: bridge.StoreTypeFile}))
//	  if err != nil { log.Fatal(err) }
//	  defer cli.Close()
//
//	  result, err := cli.BulkCreate(ctx, []docbridge.Record{{"subject": "Printer jam"}}, docbridge.BulkOptions{})
//	  if err != nil { log.Fatal(err) }
//	  log.Printf("created %d of %d in %s", result.Completed, result.Requested, result.Target)
//	}
//
// Token stores
//
// The security token resolved from the host document, the environment, the
// cookie jar or the token endpoint is mirrored into a store so later runs can
// reuse it. StoreTypeFile keeps it in ~/.docbridge/tokens.yml. StoreTypeNATS
// shares it between processes through a JetStream key-value bucket.
package bridge
