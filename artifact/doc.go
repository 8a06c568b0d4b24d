// Package artifact is the out-of-scope collaborator the coordination
// core never reads: a per-job directory tree plus a manifest.json,
// populated by stage functions (package stagework) and inspected only
// by tests and operators.
package artifact
