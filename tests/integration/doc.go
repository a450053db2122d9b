// Package integration drives English Corner over HTTP and checks the rows
// and documents it leaves behind in PostgreSQL and MongoDB containers.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration
