// Package codec is the CBOR encoding shared by the on-disk engines and the
// host call ABI.
//
// Encoding is deterministic (sorted map keys, shortest integers), so equal
// values always encode to equal bytes. Frames add a 4-byte little-endian
// length prefix for records stored in fixed-size blocks.
package codec
