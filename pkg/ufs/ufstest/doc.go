// Package ufstest provides a conformance test suite for ufs.FileSystem
// implementations.
//
// All backends (local, memory, s3) should pass these tests. The backup
// pipeline relies only on the behavior checked here, so a backend that
// passes can be used as a backup target or preload source.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//	    ufstest.RunConformanceSuite(t, func(t *testing.T) ufs.FileSystem {
//	        return memory.New("test")
//	    })
//	}
//
// The factory function receives *testing.T so it can call t.TempDir() for
// backends that need a directory and t.Cleanup for teardown.
package ufstest
