// Package domain defines the core types shared by the contact sync pipeline.
//
// Types in this package are value objects with no network, database or HTTP
// concerns. They are the shared language between record sources, the
// contactsync engine, the provider client and the outcome sinks.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON tags are allowed (they're metadata, not behavior)
//   - Decoding and pure validation helpers are allowed
package domain
