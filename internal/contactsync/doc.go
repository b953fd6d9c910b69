// Package contactsync maps upstream contact records onto Mailchimp list
// members, dispatches them in provider-sized batches and reconciles the
// per-member results back to the records they came from.
//
// The package depends on the Provider interface in provider.go for every
// remote call and on Emitter for reporting outcomes. It never imports
// net/http or database/sql directly.
//
// A sync session owns one SchemaCache and one ExternalIDIndex. Both are
// mutated by a single goroutine: sub-batches are processed strictly in
// sequence and records within a sub-batch are mapped one at a time, so two
// records introducing the same new merge field or group name provision it
// exactly once.
package contactsync
