// Package logging configures structured slog output for issueindex.
//
// Logs are JSON lines written to a size-rotated file under
// ~/.issueindex/logs/ and, unless disabled, mirrored to stderr.
// Event names are snake_case (reindex_started, batch_indexed, ...).
package logging
