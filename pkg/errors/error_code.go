package errors

import (
	"fmt"
	"net/http"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const YatccPrefix = "YatccSE."

/*
   5-digit Error Code Convention: [xx][yyy]
   [xx] Business ID (00-99), used to distinguish errors from different business interfaces.
   00: General errors
   01: Codespace-related errors
   [yyy] Error code range (000-999)
*/

// public: 00xxx
const (
	InternalError         = YatccPrefix + "00001"
	BadRequest            = YatccPrefix + "00002"
	Forbidden             = YatccPrefix + "00003"
	AlreadyExist          = YatccPrefix + "00004"
	NotFound              = YatccPrefix + "00005"
	RequestEntityTooLarge = YatccPrefix + "00006"
	Unauthorized          = YatccPrefix + "00007"
)

// codespace: 01xxx
const (
	QuotaExhausted = YatccPrefix + "01001"
	StartFailed    = YatccPrefix + "01002"
	StopFailed     = YatccPrefix + "01003"
	ClusterError   = YatccPrefix + "01004"
)

// returns true if the specified error reason is a yatcc-se error.
func IsYatcc(err error) bool {
	if err == nil {
		return false
	}
	return strings.HasPrefix(string(apierrors.ReasonForError(err)), YatccPrefix)
}

func IsAlreadyExist(err error) bool {
	return apierrors.ReasonForError(err) == AlreadyExist
}

func IsBadRequest(err error) bool {
	return apierrors.ReasonForError(err) == BadRequest
}

func IsInternal(err error) bool {
	return apierrors.ReasonForError(err) == InternalError
}

func IsNotFound(err error) bool {
	return apierrors.ReasonForError(err) == NotFound
}

func IsUnauthorized(err error) bool {
	return apierrors.ReasonForError(err) == Unauthorized
}

func IsForbidden(err error) bool {
	return apierrors.ReasonForError(err) == Forbidden
}

func IsQuotaExhausted(err error) bool {
	return apierrors.ReasonForError(err) == QuotaExhausted
}

func IsStartFailed(err error) bool {
	return apierrors.ReasonForError(err) == StartFailed
}

func IsStopFailed(err error) bool {
	return apierrors.ReasonForError(err) == StopFailed
}

func IsClusterError(err error) bool {
	return apierrors.ReasonForError(err) == ClusterError
}

func IgnoreFound(err error) error {
	if err == nil || IsNotFound(err) {
		return nil
	}
	return err
}

func GetErrorCode(err error) string {
	if err == nil || !IsYatcc(err) {
		return ""
	}
	return string(apierrors.ReasonForError(err))
}

func NewBadRequest(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusBadRequest,
		Reason:  BadRequest,
		Message: fmt.Sprintf("Bad request. %s", message),
	}}
}

func NewInternalError(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusInternalServerError,
		Reason:  InternalError,
		Message: fmt.Sprintf("Internal error. %s", message),
	}}
}

func NewAlreadyExist(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusConflict,
		Reason:  AlreadyExist,
		Message: message,
	}}
}

func NewForbidden(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusForbidden,
		Reason:  Forbidden,
		Message: message,
	}}
}

func NewNotFound(kind, name string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status: metav1.StatusFailure,
		Code:   http.StatusNotFound,
		Reason: NotFound,
		Details: &metav1.StatusDetails{
			Kind: kind,
			Name: name,
		},
		Message: fmt.Sprintf("%s %s not found.", kind, name),
	}}
}

func NewNotFoundWithMessage(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusNotFound,
		Reason:  NotFound,
		Message: message,
	}}
}

func NewRequestEntityTooLargeError(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusRequestEntityTooLarge,
		Reason:  RequestEntityTooLarge,
		Message: fmt.Sprintf("Request entity is too large: %s", message),
	}}
}

func NewUnauthorized(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusUnauthorized,
		Reason:  Unauthorized,
		Message: message,
	}}
}

// NewQuotaExhausted reports that a student's codespace time quota is used
// up. It maps to 402 so clients can distinguish it from plain forbidden.
func NewQuotaExhausted(sid string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusPaymentRequired,
		Reason:  QuotaExhausted,
		Message: fmt.Sprintf("the time quota of student %s is exhausted", sid),
	}}
}

func NewStartFailed(sid string, cause error) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusInternalServerError,
		Reason:  StartFailed,
		Message: fmt.Sprintf("failed to start codespace of student %s: %v", sid, cause),
	}}
}

func NewStopFailed(sid string, cause error) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusInternalServerError,
		Reason:  StopFailed,
		Message: fmt.Sprintf("failed to stop codespace of student %s: %v", sid, cause),
	}}
}

func NewClusterError(message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusInternalServerError,
		Reason:  ClusterError,
		Message: fmt.Sprintf("cluster error: %s", message),
	}}
}
