// Package common provides shared constants, types, utilities, and interfaces
// used throughout the VPN Dialer application.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: Application-wide constants like tick intervals, timeouts and file names
//   - Errors: Sentinel errors for consistent error handling across packages
//   - Interfaces: Abstractions for notifications and logging
//   - Logger: Leveled logging with console and rotating file output
//   - Utils: Duration, clock and byte-rate formatting helpers
//
// # Usage
//
//	// Use logger
//	common.LogInfo("Dialing %s", profileName)
//
//	// Check errors
//	if errors.Is(err, common.ErrOperationInProgress) {
//	    // The toggle was rejected; an operation is still in flight
//	}
package common
