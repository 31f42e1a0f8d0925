// Package syntax provides string types for the atproto identifiers this
// module works with: handles and DIDs.
//
// These are value types wrapping strings. Always construct them with the
// Parse functions when working with external input.
package syntax
