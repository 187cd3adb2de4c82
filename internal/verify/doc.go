// Package verify checks sticker files against a platform.Spec and reports
// each failed constraint as a structured Violation.
package verify
