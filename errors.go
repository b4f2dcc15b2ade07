package goreason

import (
	"errors"

	"github.com/llmc-dev/rag-core/backend"
	"github.com/llmc-dev/rag-core/ranker"
	"github.com/llmc-dev/rag-core/reliability"
	"github.com/llmc-dev/rag-core/store"
	"github.com/llmc-dev/rag-core/workspace"
)

// ErrorKind names a failure's behavior class, independent of which package
// raised it. CLI wrappers and the health/ops HTTP facade use it to decide
// exit codes and status mapping without needing to know every package's own
// sentinel errors.
type ErrorKind string

const (
	KindPathEscape        ErrorKind = "path_escape"
	KindUnknownSpan       ErrorKind = "unknown_span"
	KindUnknownFile       ErrorKind = "unknown_file"
	KindStaleIndex        ErrorKind = "stale_index"
	KindBackendExhausted  ErrorKind = "backend_exhausted"
	KindAuthDenied        ErrorKind = "auth_denied"
	KindQuotaExceeded     ErrorKind = "quota_exceeded"
	KindModelMissing      ErrorKind = "model_missing"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindCircuitOpen       ErrorKind = "circuit_open"
	KindBudgetExceeded    ErrorKind = "budget_exceeded"
	KindStoreCorruption   ErrorKind = "store_corruption"
	KindUnknown           ErrorKind = "unknown"
)

// Classify maps an error returned from any component into its ErrorKind.
// A *backend.Error surfacing all the way up (retries and cascade both
// exhausted) is reported as KindBackendExhausted rather than its original
// timeout/transient kind, since by the time it reaches here every retryable
// avenue has already been tried.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, workspace.ErrPathEscape):
		return KindPathEscape
	case errors.Is(err, store.ErrUnknownSpan):
		return KindUnknownSpan
	case errors.Is(err, store.ErrUnknownFile):
		return KindUnknownFile
	case errors.Is(err, store.ErrCorruption):
		return KindStoreCorruption
	case errors.Is(err, ranker.ErrStaleIndex):
		return KindStaleIndex
	case errors.Is(err, reliability.ErrBudgetExceeded):
		return KindBudgetExceeded
	case errors.Is(err, reliability.ErrCircuitOpen):
		return KindCircuitOpen
	}

	var be *backend.Error
	if errors.As(err, &be) {
		switch be.Kind {
		case backend.KindAuthDenied:
			return KindAuthDenied
		case backend.KindQuotaExceeded:
			return KindQuotaExceeded
		case backend.KindModelMissing:
			return KindModelMissing
		case backend.KindMalformed:
			return KindMalformedResponse
		case backend.KindTimeout, backend.KindTransient, backend.KindHTTPStatus:
			return KindBackendExhausted
		}
	}

	return KindUnknown
}

// ExitCode maps an ErrorKind to the stable CLI exit codes a wrapper process
// should use (0 success; 1 generic error; 2 bad arguments; 3 stale/missing
// index; 4 poisoned batch; 5 over-budget). This package never exits a
// process itself; it only advises the wrapper's choice.
func ExitCode(kind ErrorKind) int {
	switch kind {
	case "":
		return 0
	case KindStaleIndex:
		return 3
	case KindUnknownSpan, KindUnknownFile:
		return 4
	case KindBudgetExceeded:
		return 5
	default:
		return 1
	}
}
