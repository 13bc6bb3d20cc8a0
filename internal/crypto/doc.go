// Package crypto provides the storage codecs for pictdb.
//
// The default StreamCodec preserves the legacy on-disk contract:
//   - keystream material: PBKDF2-HMAC-SHA256 over the passphrase with the
//     fixed domain string as salt
//   - validation flag: truncated BLAKE3 digest, independent of the keystream
//   - documents: marker:flag:body envelope, 8-byte group rotation, then a
//     repeating-keystream XOR
//   - payloads: repeating-keystream XOR only
//
// The stream codec gives confidentiality against casual inspection of the
// storage folder but no integrity or authentication, and the fixed domain
// string exposes it to known-plaintext analysis. Treat that as a caveat of
// the legacy format, not a feature.
//
// SealedCodec is the AES-256-GCM alternative for folders that do not need
// to interoperate with legacy files.
package crypto
