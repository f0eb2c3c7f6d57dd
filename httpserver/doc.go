/*
Package httpserver implements the lock server's HTTP surface.

It exposes the pairing and unlock protocols over a chi router, plus health and
drain endpoints for deployment behind a load balancer. The handlers are thin:
all protocol decisions live in the pairing and unlock coordinators, and the
handler layer only decodes wire messages, dispatches, and maps errors.

# Error policy

Verification failures are deliberately collapsed into a generic rejection
before they reach a client. Which check failed (MAC, signature, attestation,
capability) is an oracle an attacker can use, so the exact cause goes to the
server log and nowhere else. The two exceptions are part of the protocol:
a pending delegated pairing answers 404 so clients can poll, and a duplicate
finish-payload upload answers 409 so the delegatee knows not to retry.
*/
package httpserver
