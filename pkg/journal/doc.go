// Package journal provides crash report persistence backends: a bounded
// in-memory journal, a file-per-report disk journal, a SQLite journal, a
// fan-out tee over several journals, and a registry that builds journals
// from configuration definitions.
package journal
