// Package main (cmd/guardian-claim) binds a Guardian device to its parent account.
//
// The installer runs it in two stages, possibly as separate processes:
//
//	guardian-claim --root=/target authenticate --email=... --password=...
//	guardian-claim --root=/target claim
//
// or in one step with install. Missing credentials or an unreachable backend
// are not failures: the device is left in claim_pending and the installed
// system resumes the claim at boot with reconcile (once) or daemon (until
// claimed). Rejected credentials and backend errors print a title and a
// detail line on stderr and exit 1.
//
// Credentials are also read from GUARDIAN_AUTH_MODE, GUARDIAN_AUTH_EMAIL and
// GUARDIAN_AUTH_PASSWORD (GUARDIAN_TEST_EMAIL/GUARDIAN_TEST_PASSWORD are
// accepted too), and the root mount from GUARDIAN_ROOT_MOUNT.
package main
