/*
Package httpserver serves the fake family backend over HTTP.

The server mounts the backendmock routes under /functions/v1 and adds the
usual operational endpoints:

  - GET /livez - liveness check
  - GET /readyz - readiness check
  - GET /drain - mark the server as not ready; backend endpoints answer 503
  - GET /undrain - mark the server as ready again
  - /debug/* - pprof, when EnablePprof is set

Draining is how a developer simulates an unreachable backend: the installer
then takes the offline activation path and the device stays claim_pending
until the server is undrained and the claim is reconciled.
*/
package httpserver
