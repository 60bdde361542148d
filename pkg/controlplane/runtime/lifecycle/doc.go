// Package lifecycle provides daemon startup and shutdown orchestration.
//
// The Service starts the auxiliary HTTP servers, waits for a shutdown
// signal or a server failure, then drains the backup workers and tears the
// components down in reverse order of construction.
package lifecycle
