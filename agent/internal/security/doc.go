// Package security inspects the X.509 certificates the agent's mTLS sinks
// depend on: its own client certificate on disk and the server's certificate
// presented at the sink endpoint.
package security
