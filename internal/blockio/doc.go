// Package blockio manages the fixed-size block layout over segment files.
//
// Payload bytes are split into 64 KiB blocks addressed by a global block
// index. Index div 1024 selects the segment file, index mod 1024 the byte
// offset within it, so each segment file caps at 64 MiB. Segment names are
// derived from the segment index plus a fixed base, keeping them clear of
// reserved file names in the storage folder.
//
// Chunk operations belonging to one logical read or write run concurrently
// against a shared file handle and are joined before the call returns; a
// single failed chunk fails the whole operation.
package blockio
