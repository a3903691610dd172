/*
Package api holds the wire contract with the family backend and the backend
configuration shared by every client.

# Endpoints

All endpoints live under the functions base of a Supabase project
(<project>/functions/v1):

  - auth-login and auth-register exchange parent credentials for a session token
  - bind-device binds a device fingerprint to the parent's account
  - device-heartbeat reports liveness of a claimed device

# Configuration

BackendConfig is built once at startup, from the defaults baked into the
installer or from a deployment YAML file (LoadBackendConfig), and is passed by
value to the clients in the clients subpackage.

The backendmock subpackage implements the same endpoints in memory for tests
and local development.
*/
package api
