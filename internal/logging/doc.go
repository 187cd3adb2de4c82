// Package logging provides a simple leveled logging interface for the
// sticker converter.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information (engine command lines, probe output)
//   - INFO: General progress messages
//   - WARN: Skipped files and degraded features
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable, or
// overridden at runtime by the --log-level flag through SetLevel. Logs go to
// stderr so that command results written to stdout stay machine readable.
package logging
