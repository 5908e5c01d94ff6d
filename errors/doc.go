// Package errors provides the gateway's error classification.
//
// Errors fall into three classes:
//
//   - Transient: connection loss, timeouts, an unavailable backend. The
//     operation may succeed later.
//   - Invalid: malformed client input or bad configuration. Retrying will not help.
//   - Fatal: rejected credentials or corrupted state.
//
// Wrap errors at package boundaries with WrapTransient, WrapInvalid or
// WrapFatal. Messages follow "component.method: action failed: cause":
//
//	if err := conn.Publish(subject, data); err != nil {
//	    return errors.WrapTransient(err, "Client", "Publish", "send to "+subject)
//	}
//
// Callers use IsTransient, IsInvalid and IsFatal (or Classify) instead of
// matching on error strings. The outermost ClassifiedError decides the
// class; unwrapped errors are classed by their sentinel cause and default
// to transient.
package errors
