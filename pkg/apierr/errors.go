package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	ErrCodeInvalidImage     ErrCode = "INVALID_IMAGE"
	ErrCodeFileTooLarge     ErrCode = "FILE_TOO_LARGE"
	ErrCodeNotFound         ErrCode = "NOT_FOUND"
	ErrCodeUnauthorized     ErrCode = "UNAUTHORIZED"
	ErrCodeRateLimited      ErrCode = "RATE_LIMITED"
	ErrCodeModelError       ErrCode = "MODEL_ERROR"
	ErrCodeStoreError       ErrCode = "STORE_ERROR"
	ErrCodeStorageFull      ErrCode = "STORAGE_FULL"
	ErrCodeInvalidParameter ErrCode = "INVALID_PARAMETER"
	ErrCodeInternal         ErrCode = "INTERNAL"
	ErrCodeUnknown          ErrCode = "UNKNOWN"
)

type ErrCode string

type ErrorInfo struct {
	HttpStatus int     `json:"-"`
	Code       ErrCode `json:"code"`
	Message    string  `json:"message"`
	Detail     string  `json:"detail,omitempty"`
}

func (e ErrorInfo) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func IsErrCode(err error, code ErrCode) bool {
	if err == nil {
		return false
	}
	info := ErrorInfo{}
	if errors.As(err, &info) {
		return info.Code == code
	}
	return false
}

func NewInvalidImageError(msg string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusBadRequest, Code: ErrCodeInvalidImage, Message: msg}
}

func NewFileTooLargeError(sizeBytes, maxBytes int64) ErrorInfo {
	return ErrorInfo{
		HttpStatus: http.StatusRequestEntityTooLarge,
		Code:       ErrCodeFileTooLarge,
		Message:    fmt.Sprintf("file size %d exceeds limit %d", sizeBytes, maxBytes),
	}
}

func NewNotFoundError(what string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusNotFound, Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found", what)}
}

func NewUnauthorizedError(msg string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusUnauthorized, Code: ErrCodeUnauthorized, Message: msg}
}

func NewRateLimitedError() ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusTooManyRequests, Code: ErrCodeRateLimited, Message: "rate limit exceeded"}
}

func NewModelError(err error) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusInternalServerError, Code: ErrCodeModelError, Message: "inference failed", Detail: err.Error()}
}

func NewStoreError(err error) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusInternalServerError, Code: ErrCodeStoreError, Message: "storage operation failed", Detail: err.Error()}
}

func NewStorageFullError(err error) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusInsufficientStorage, Code: ErrCodeStorageFull, Message: "upload storage unavailable", Detail: err.Error()}
}

func NewParameterInvalidError(msg string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusBadRequest, Code: ErrCodeInvalidParameter, Message: msg}
}

func NewInternalError(err error) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusInternalServerError, Code: ErrCodeInternal, Message: err.Error()}
}
