package labels

import (
	"errors"
	"fmt"
	"net/http"
)

// ===== Error model =====
type Code string

const (
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeInvalidDieline      Code = "INVALID_DIELINE"
	CodeNotFound            Code = "NOT_FOUND"
	CodeArtworkFetchFailed  Code = "ARTWORK_FETCH_FAILED"
	CodeStorageUploadFailed Code = "STORAGE_UPLOAD_FAILED"
	CodeCapacityRejected    Code = "CAPACITY_REJECTED"
	CodeJobTimeout          Code = "JOB_TIMEOUT"
	CodeInternal            Code = "INTERNAL"

	// 警告のみ (HTTP エラーにはならない)
	CodeProofDegraded Code = "PROOF_DEGRADED"
)

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func ErrInvalid(msg string) *APIError        { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrInvalidDieline(msg string) *APIError { return &APIError{Code: CodeInvalidDieline, Message: msg} }
func ErrNotFound(msg string) *APIError       { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrArtworkFetch(msg string) *APIError   { return &APIError{Code: CodeArtworkFetchFailed, Message: msg} }
func ErrStorageUpload(msg string) *APIError  { return &APIError{Code: CodeStorageUploadFailed, Message: msg} }
func ErrCapacity(msg string) *APIError       { return &APIError{Code: CodeCapacityRejected, Message: msg} }
func ErrJobTimeout(msg string) *APIError     { return &APIError{Code: CodeJobTimeout, Message: msg} }
func ErrInternal(msg string) *APIError       { return &APIError{Code: CodeInternal, Message: msg} }

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument, CodeInvalidDieline:
			return http.StatusBadRequest
		case CodeNotFound:
			return http.StatusNotFound
		case CodeArtworkFetchFailed, CodeStorageUploadFailed:
			return http.StatusBadGateway
		case CodeCapacityRejected:
			return http.StatusServiceUnavailable
		case CodeJobTimeout:
			return http.StatusGatewayTimeout
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

// codeOf はエラーのコード (APIError 以外は INTERNAL)。
func codeOf(err error) Code {
	var api *APIError
	if errors.As(err, &api) {
		return api.Code
	}
	return CodeInternal
}

// fetchError はアートワーク取得の失敗。どの参照で失敗したかを保持する。
type fetchError struct {
	Ref string
	Err error
}

func (e *fetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Ref, e.Err) }
func (e *fetchError) Unwrap() error { return e.Err }
