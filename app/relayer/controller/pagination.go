package controller

import (
	"net/http"
	"strconv"

	"github.com/ufedojoa/townsquare/pkg/apperr"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

type pageSpec struct {
	Skip  int
	Limit int
}

func parsePageSpec(r *http.Request) (pageSpec, error) {
	qs := r.URL.Query()
	spec := pageSpec{Limit: defaultLimit}
	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return pageSpec{}, errInvalidLimit
		}
		spec.Limit = min(n, maxLimit)
	}
	if v := qs.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return pageSpec{}, errInvalidSkip
		}
		spec.Skip = n
	}
	return spec, nil
}

var (
	errInvalidLimit = apperr.New(apperr.CodeInvalidRequest, "invalid limit")
	errInvalidSkip  = apperr.New(apperr.CodeInvalidRequest, "invalid skip")
)
