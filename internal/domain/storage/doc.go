// Package storage defines the storage contract consumed by the optimization
// driver and the error taxonomy every implementation reports.
//
// Only CodeTransient failures are safe to retry automatically; every other
// code is a usage or data fault and should reach the driver unchanged.
package storage
