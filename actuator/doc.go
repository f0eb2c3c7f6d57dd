// Package actuator talks to the home automation system that physically moves
// locks. The lock server treats it as an external collaborator: a failed
// actuation call fails the whole unlock, and the automatic re-lock goes
// through the same client.
package actuator
