// Package catalog holds the in-memory metadata store and its whole-file
// persistence.
//
// The entire catalog (entries, tags, block map, counters, free list,
// config) lives in memory between Load and Save and is the single source
// of truth during the session. Persistence is one zstd-compressed, encrypted
// JSON document replaced atomically via temp file and rename.
//
// Two deliberate policies:
//   - deleting an entry reclaims every block index its renditions reference
//     into the free list
//   - the global tag set is grow-only; tags outlive their last reference
package catalog
