// Package main (cmd/mockbackend) serves an in-memory fake of the family backend.
//
// It implements auth-login, auth-register, bind-device and device-heartbeat
// under /functions/v1, so the installer and the boot-time service can be
// exercised without network access to the real project:
//
//	mockbackend --listen-addr=127.0.0.1:8080 --parent=parent@example.com:secret
//	guardian-claim --supabase-url=http://127.0.0.1:8080 --root=/tmp/target \
//	    install --email=parent@example.com --password=secret
//
// GET /drain makes every backend endpoint answer 503 until GET /undrain,
// which simulates an unreachable backend for the offline activation path.
package main
