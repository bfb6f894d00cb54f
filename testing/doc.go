// Package testing provides test utilities for the ensemble library.
//
// It follows Go's convention of providing testing utilities in a dedicated
// package (similar to net/http/httptest). Key utilities:
//
//   - StartEmbeddedNATS: in-process NATS server for transport tests
//   - NewTestLogger: types.Logger that writes to the test log
//
// Example usage:
//
//	import (
//	    "testing"
//	    enstest "github.com/hpcoord/ensemble/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := enstest.StartEmbeddedNATS(t)
//	    // Use nc for your tests
//	}
package testing
