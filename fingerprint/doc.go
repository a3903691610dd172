// Package fingerprint derives the stable hardware identity of a device.
//
// The fingerprint is "sha256:" followed by the hex SHA-256 of the available
// signals joined with "|", in this order: CPU model, Ethernet MAC addresses
// ordered by interface index, machine id. Missing signals are skipped.
// Derivation never fails.
package fingerprint
