// Package provision runs the device claim flow.
//
// At install time Authenticate exchanges the parent credentials and hands the
// session to Claim, which may run in another process; Run does both. A missing
// or unreachable backend never fails installation: the device is left
// claim_pending and Reconcile (or ReconcileUntilClaimed) resumes the claim on
// the installed system with the persisted fingerprint.
package provision
