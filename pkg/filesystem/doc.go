// Package filesystem provides filesystem implementations for safecopy.
//
// This package contains implementations of the types.FS interface the
// deploy components operate against, currently the standard OS
// filesystem.
package filesystem
