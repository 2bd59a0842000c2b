package web

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/golang/glog"

	"github.com/mqy/minichat/errs"
)

// errorBody is what clients see for a failed request.
type errorBody struct {
	Code   errs.Code `json:"code"`
	Params []string  `json:"params,omitempty"`
}

var statusOfCode = map[errs.Code]int{
	errs.CodeInvalidArgument:   http.StatusBadRequest,
	errs.CodeUnauthenticated:   http.StatusUnauthorized,
	errs.CodePermissionDenied:  http.StatusForbidden,
	errs.CodeNotFound:          http.StatusNotFound,
	errs.CodeAlreadyExists:     http.StatusConflict,
	errs.CodeResourceExhausted: http.StatusTooManyRequests,
	errs.CodeInternal:          http.StatusInternalServerError,
}

func httpStatus(code errs.Code) int {
	if v, ok := statusOfCode[code]; ok {
		return v
	}
	return http.StatusInternalServerError
}

// interceptError hides internal details from clients.
func interceptError(e *errs.Error) *errorBody {
	if e.Code == errs.CodeInternal {
		return &errorBody{Code: e.Code, Params: []string{"temp storage error"}}
	}
	return &errorBody{Code: e.Code, Params: e.Params}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) int {
	e := errs.As(err)
	status := httpStatus(e.Code)
	if e.Code == errs.CodeInternal {
		glog.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds()))))
	}
	writeJSON(w, status, interceptError(e))
	return status
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.V(5).Infof("write response error: %v", err)
	}
}
