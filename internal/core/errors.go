package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for exit-code mapping and handling
// decisions. Every category maps to exactly one process exit code.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // invalid input, config, body edit
	ErrCatRemote     ErrorCategory = "remote"     // network, rate limit, remote failure
	ErrCatAuth       ErrorCategory = "auth"       // missing or rejected credential
	ErrCatWorkflow   ErrorCategory = "workflow"   // state machine or structural precondition
	ErrCatInternal   ErrorCategory = "internal"   // unexpected internal error
)

// Exit codes per category.
const (
	ExitOK       = 0
	ExitUser     = 1
	ExitRemote   = 2
	ExitAuth     = 3
	ExitWorkflow = 4
	ExitInternal = 5
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch GetCategory(err) {
	case ErrCatValidation:
		return ExitUser
	case ErrCatRemote:
		return ExitRemote
	case ErrCatAuth:
		return ExitAuth
	case ErrCatWorkflow:
		return ExitWorkflow
	}
	return ExitInternal
}

// DomainError represents a structured error from the domain layer. Transports
// classify remote failures into it, the hybrid client intercepts
// FEATURE_UNAVAILABLE for fallbacks, and the command layer renders the rest.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target by category and code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information. Details feed the JSON envelope
// (candidate lists, blocking items, feature tags).
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value, or nil when absent.
func (e *DomainError) Detail(key string) interface{} {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// Predefined error codes
const (
	// Credentials
	CodeMissingCredential = "MISSING_CREDENTIAL"
	CodeInvalidCredential = "INVALID_CREDENTIAL"

	// Configuration
	CodeConfigMissing      = "CONFIG_MISSING"
	CodeConfigInvalid      = "CONFIG_INVALID"
	CodeConfigMissingField = "CONFIG_MISSING_FIELD"

	// Remote access
	CodeRepositoryFormatInvalid = "REPOSITORY_FORMAT_INVALID"
	CodeIssueNotFound           = "ISSUE_NOT_FOUND"
	CodeMilestoneNotFound       = "MILESTONE_NOT_FOUND"
	CodeForbidden               = "FORBIDDEN"
	CodeTimeout                 = "TIMEOUT"
	CodeRateLimited             = "RATE_LIMITED"
	CodeNetworkError            = "NETWORK_ERROR"
	CodeFeatureUnavailable      = "FEATURE_UNAVAILABLE"
	CodeRelationshipRequired    = "RELATIONSHIP_REQUIRED"
	CodeBootstrapIncomplete     = "BOOTSTRAP_INCOMPLETE"

	// Workflow preconditions
	CodeIllegalTransition      = "ILLEGAL_TRANSITION"
	CodeRequiredSectionMissing = "REQUIRED_SECTION_MISSING"
	CodeCompletionBlocked      = "COMPLETION_BLOCKED"
	CodeParentNotOfKind        = "PARENT_NOT_OF_EXPECTED_KIND"

	// Body edits
	CodeDuplicateTodo    = "DUPLICATE_TODO"
	CodeTodoNotFound     = "TODO_NOT_FOUND"
	CodeSectionNotFound  = "SECTION_NOT_FOUND"
	CodeAmbiguousMatch   = "AMBIGUOUS_MATCH"
	CodeBodyTooLarge     = "BODY_TOO_LARGE"
	CodeInvalidIssueType = "INVALID_ISSUE_TYPE"
	CodeInvalidArgument  = "INVALID_ARGUMENT"

	// Internal
	CodeInternal = "INTERNAL"
)

// ErrValidation creates a user-input error (exit 1).
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrRemote creates a remote-access error (exit 2).
func ErrRemote(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRemote,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrAuth creates an authentication error (exit 3).
func ErrAuth(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrWorkflow creates a workflow precondition error (exit 4).
func ErrWorkflow(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatWorkflow,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrInternal creates an internal error (exit 5). Internal failures are never
// downgraded to user errors.
func ErrInternal(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatInternal,
		Code:      CodeInternal,
		Message:   message,
		Retryable: false,
	}
}

// ErrTimeout creates a retryable timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRemote,
		Code:      CodeTimeout,
		Message:   message,
		Retryable: true,
	}
}

// ErrRateLimited creates a retryable rate-limit error.
func ErrRateLimited(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRemote,
		Code:      CodeRateLimited,
		Message:   message,
		Retryable: true,
	}
}

// ErrNetwork creates a retryable connectivity error.
func ErrNetwork(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRemote,
		Code:      CodeNetworkError,
		Message:   message,
		Retryable: true,
	}
}

// ErrFeatureUnavailable signals that an optional graph capability is absent
// on the target installation. Callers either fall back or surface it.
// Feature tags: "sub_issues", "issue_types", "projects_v2".
func ErrFeatureUnavailable(feature, message string) *DomainError {
	return ErrRemote(CodeFeatureUnavailable, message).WithDetail("feature", feature)
}

// FeatureOf extracts the feature tag from a FEATURE_UNAVAILABLE error, or "".
func FeatureOf(err error) string {
	var domErr *DomainError
	if errors.As(err, &domErr) && domErr.Code == CodeFeatureUnavailable {
		if f, ok := domErr.Detail("feature").(string); ok {
			return f
		}
	}
	return ""
}

// ErrIssueNotFound reports a missing issue by reference.
func ErrIssueNotFound(repo RepoRef, number int) *DomainError {
	return ErrRemote(CodeIssueNotFound,
		fmt.Sprintf("issue %s#%d not found", repo, number)).
		WithDetail("repo", repo.String()).
		WithDetail("number", number)
}

// ErrIllegalTransition reports a from-state mismatch for a workflow verb.
func ErrIllegalTransition(current WorkflowState, verb string, expected []WorkflowState) *DomainError {
	valid := make([]string, len(expected))
	for i, s := range expected {
		valid[i] = string(s)
	}
	return ErrWorkflow(CodeIllegalTransition,
		fmt.Sprintf("cannot %s: issue is in state %q", verb, current)).
		WithDetail("current", string(current)).
		WithDetail("verb", verb).
		WithDetail("valid_options", valid)
}

// ErrRequiredSectionMissing reports required sections absent from a body.
func ErrRequiredSectionMissing(missing []string) *DomainError {
	return ErrWorkflow(CodeRequiredSectionMissing,
		fmt.Sprintf("required sections missing: %v", missing)).
		WithDetail("missing", missing)
}

// BlockedTodo locates one unchecked todo for completion-blocked reporting.
type BlockedTodo struct {
	Section string `json:"section"`
	Text    string `json:"text"`
}

// ErrCompletionBlocked reports why approve-work cannot proceed.
func ErrCompletionBlocked(openChildren []int, uncheckedTodos []BlockedTodo) *DomainError {
	return ErrWorkflow(CodeCompletionBlocked,
		fmt.Sprintf("completion blocked: %d open children, %d unchecked todos",
			len(openChildren), len(uncheckedTodos))).
		WithDetail("open_children", openChildren).
		WithDetail("unchecked_todos", uncheckedTodos)
}

// ErrRelationshipRequired surfaces the create rollback, naming the composite
// step that failed after the orphan child was compensated.
func ErrRelationshipRequired(step string) *DomainError {
	return ErrRemote(CodeRelationshipRequired,
		fmt.Sprintf("parent relationship could not be established (failed step: %s); the orphan issue was closed", step)).
		WithDetail("step", step)
}

// ErrParentNotOfKind guards hierarchy links against mistyped parents.
func ErrParentNotOfKind(parentNumber int, expected, actual IssueType) *DomainError {
	return ErrWorkflow(CodeParentNotOfKind,
		fmt.Sprintf("parent #%d is %q, expected %q", parentNumber, actual, expected)).
		WithDetail("parent", parentNumber).
		WithDetail("expected", string(expected)).
		WithDetail("actual", string(actual))
}

// ErrSectionNotFound lists the sections that do exist, best matches first.
func ErrSectionNotFound(name string, available []string) *DomainError {
	return ErrValidation(CodeSectionNotFound,
		fmt.Sprintf("section %q not found", name)).
		WithDetail("valid_options", available)
}

// ErrAmbiguousMatch lists every todo the given text matched.
func ErrAmbiguousMatch(match string, candidates []string) *DomainError {
	return ErrValidation(CodeAmbiguousMatch,
		fmt.Sprintf("%d todos match %q, use more specific text", len(candidates), match)).
		WithDetail("valid_options", candidates)
}

// ErrBodyTooLarge rejects writes past the remote body ceiling.
func ErrBodyTooLarge(size int) *DomainError {
	return ErrValidation(CodeBodyTooLarge,
		fmt.Sprintf("body is %d characters, the limit is %d", size, MaxBodySize)).
		WithDetail("size", size).
		WithDetail("limit", MaxBodySize)
}

// MaxBodySize is the remote ceiling on issue body length, in UTF-16 code
// units as the remote service counts them.
const MaxBodySize = 65536

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category, defaulting to internal so that
// unclassified failures are never treated as user errors.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// CodeOf extracts the domain error code, or "" for foreign errors.
func CodeOf(err error) string {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code
	}
	return ""
}
