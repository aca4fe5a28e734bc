package domain

// ResultKind tells callers why a token operation did or did not change state.
type ResultKind string

const (
	ResultOK                      ResultKind = "ok"
	ResultSkippedNoDevice         ResultKind = "skipped_no_device"
	ResultSkippedPermissionDenied ResultKind = "skipped_permission_denied"
	ResultSkippedNoToken          ResultKind = "skipped_no_token"
	ResultFailed                  ResultKind = "failed"
)

// Result is returned by token registry and lifecycle operations in place of an
// error. Skips are legitimate terminal states; only ResultFailed carries Err.
type Result struct {
	Kind ResultKind
	Err  error
}

func OK() Result { return Result{Kind: ResultOK} }

func Skipped(kind ResultKind) Result { return Result{Kind: kind} }

func Failed(err error) Result { return Result{Kind: ResultFailed, Err: err} }

func (r Result) OK() bool { return r.Kind == ResultOK }

func (r Result) Skipped() bool {
	switch r.Kind {
	case ResultSkippedNoDevice, ResultSkippedPermissionDenied, ResultSkippedNoToken:
		return true
	default:
		return false
	}
}

func (r Result) Failed() bool { return r.Kind == ResultFailed }
