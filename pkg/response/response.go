package response

import "net/http"

type APIResponseCode int

const (
	APIResponseCodeOK                  APIResponseCode = 0
	APIResponseCodeBadRequest          APIResponseCode = 40000
	APIResponseCodeInvalidTier         APIResponseCode = 40001
	APIResponseCodeUnauthorized        APIResponseCode = 40100
	APIResponseCodeForbidden           APIResponseCode = 40300
	APIResponseCodeNotFound            APIResponseCode = 40400
	APIResponseCodeConflict            APIResponseCode = 40900
	APIResponseCodeStateConflict       APIResponseCode = 40901
	APIResponseCodeConcurrencyConflict APIResponseCode = 40902
	APIResponseCodeError               APIResponseCode = 50000
)

var codeToMsg = map[APIResponseCode]string{
	APIResponseCodeOK:                  "ok",
	APIResponseCodeBadRequest:          "bad request",
	APIResponseCodeInvalidTier:         "invalid tier",
	APIResponseCodeUnauthorized:        "unauthorized",
	APIResponseCodeForbidden:           "forbidden",
	APIResponseCodeNotFound:            "not found",
	APIResponseCodeConflict:            "conflict",
	APIResponseCodeStateConflict:       "invalid state",
	APIResponseCodeConcurrencyConflict: "concurrent modification, retry",
	APIResponseCodeError:               "unexpected error",
}

// HTTPStatus maps an envelope code to the transport status code.
func (c APIResponseCode) HTTPStatus() int {
	switch {
	case c == APIResponseCodeOK:
		return http.StatusOK
	case c >= 50000:
		return http.StatusInternalServerError
	default:
		// 40001 -> 400, 40902 -> 409
		return int(c) / 100
	}
}

// APIResponse is the generic response envelope used by HTTP APIs.
// Use OKT / ErrorT helpers to construct instances.
type APIResponse[T any] struct {
	Code    APIResponseCode `json:"code"`
	Message string          `json:"message"`
	Data    T               `json:"data"`
}

// OKT returns a successful response with data.
func OKT[T any](data T) *APIResponse[T] {
	return &APIResponse[T]{Code: APIResponseCodeOK, Message: codeToMsg[APIResponseCodeOK], Data: data}
}

// ErrorT returns an error response with message and optional data.
func ErrorT[T any](code APIResponseCode, data T) *APIResponse[T] {
	return &APIResponse[T]{Code: code, Message: codeToMsg[code], Data: data}
}
