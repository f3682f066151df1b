// Package errors provides structured error types for the mgmt-bridge library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type includes rich context: field path, the foreign
// fault class and message for cross-heap failures, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseHostCall, errors.KindForeignCall).
//		FaultClass("wippy:mgmt/fault/internal").
//		FaultMessage("factory unavailable").
//		Detail("signal registration").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ForeignCall(errors.PhaseBootstrap, "define calls module", class, msg)
//	err := errors.MalformedName(raw, "missing domain separator")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
