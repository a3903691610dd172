// Package cryptoutils seals small secrets at rest.
//
// Seal derives a fresh Argon2id key per blob from caller-supplied key
// material and a random salt, and encrypts with XChaCha20-Poly1305. The blob
// layout is
//
//	[version 1B][salt 16B][nonce 24B][ciphertext+tag]
//
// Open rejects blobs of another version, truncated blobs and any blob whose
// authentication fails.
package cryptoutils
