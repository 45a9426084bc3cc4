// Package errors provides coded errors shared by every pagerag component.
//
// A code is a dotted identifier whose last segment is the reason
// ("not_found", "invalid_input", "dimension_mismatch", ...). Predicates and
// HTTPStatus switch on the reason so packages can mint their own codes
// without registering them anywhere.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeExtractDecodeInvalid Code = "extract.decode.invalid_format"
	CodeExtractRenderFailure Code = "extract.render.failure"

	CodeIngestFileUnsupported  Code = "ingest.file.unsupported"
	CodeIngestFileInvalid      Code = "ingest.file.invalid_input"
	CodeIngestNoEmbeddings     Code = "ingest.embedding_upstream.failure"
	CodeIngestPreviewFailure   Code = "ingest.preview.failure"
	CodeIngestDocumentNotFound Code = "ingest.document.not_found"

	CodeEmbeddingUpstreamFailure Code = "embedding.upstream.failure"
	CodeEmbeddingRequestInvalid  Code = "embedding.request.invalid_input"
	CodeEmbeddingUnsupported     Code = "embedding.modality.unsupported"

	CodeVectorDimensionMismatch Code = "vector.insert.dimension_mismatch"
	CodeVectorQueryInvalid      Code = "vector.query.invalid_input"
	CodeVectorRecordInvalid     Code = "vector.record.invalid_input"
	CodeVectorPersistFailure    Code = "vector.persist.failure"
	CodeVectorLoadFailure       Code = "vector.load.failure"
	CodeVectorIndexEmpty        Code = "vector.index.not_found"

	CodeSearchQueryInvalid Code = "search.query.invalid_input"
	CodeSearchNoResults    Code = "search.results.not_found"

	CodeGenerateUpstreamFailure Code = "generate.upstream.failure"
	CodeGenerateRequestInvalid  Code = "generate.request.invalid_input"

	CodeStoreDocumentNotFound Code = "store.document.not_found"
	CodeStoreTaskNotFound     Code = "store.task.not_found"
	CodeStoreUserNotFound     Code = "store.user.not_found"
	CodeStoreDatabaseFailure  Code = "store.database.failure"
	CodeStoreBackendInvalid   Code = "store.backend.invalid_value"

	CodeTaskTransitionInvalid Code = "task.transition.conflict"
	CodeTaskQueueFull         Code = "task.queue.unavailable"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
	CodeSecretInvalidInput         Code = "secret.uri.invalid_input"
	CodeSecretNotFound             Code = "secret.keyring.not_found"
	CodeSecretResolveFailure       Code = "secret.resolve.failure"

	CodeServerRequestInvalid   Code = "server.request.invalid_input"
	CodeServerAuthUnauthorized Code = "server.auth.unauthorized"
	CodeServerAuthForbidden    Code = "server.auth.forbidden"
	CodeServerRateExceeded     Code = "server.rate.exceeded"
	CodeServerEntityNotFound   Code = "server.entity.not_found"
	CodeServerPayloadTooLarge  Code = "server.payload.too_large"
	CodeServerInternalFailure  Code = "server.internal.failure"
	CodeServerFeatureDisabled  Code = "server.feature.unavailable"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldScope(value string) Attr {
	return Field("scope", value)
}

func FieldDocumentID(value string) Attr {
	return Field("document_id", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// CodeOf returns the code carried by err, or "" for uncoded errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

// IsDecodeError reports whether the input bytes could not be parsed.
func IsDecodeError(err error) bool {
	return HasCode(err, CodeExtractDecodeInvalid)
}

func IsDimensionMismatch(err error) bool {
	return reason(CodeOf(err)) == "dimension_mismatch"
}

func IsUnsupported(err error) bool {
	return reason(CodeOf(err)) == "unsupported"
}

func IsUnauthorized(err error) bool {
	r := reason(CodeOf(err))
	return r == "unauthorized" || r == "forbidden"
}

func IsRateExceeded(err error) bool {
	return reason(CodeOf(err)) == "exceeded"
}

func IsUnavailable(err error) bool {
	return reason(CodeOf(err)) == "unavailable"
}

// IsEmbeddingUnavailable reports whether an embedding call produced no vector.
func IsEmbeddingUnavailable(err error) bool {
	code := CodeOf(err)
	return strings.HasPrefix(string(code), "embedding.") && !IsInvalidInput(err)
}

// IsGenerationUnavailable reports whether the answer model produced no answer.
func IsGenerationUnavailable(err error) bool {
	return HasCode(err, CodeGenerateUpstreamFailure)
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsDecodeError(err):
		return http.StatusUnprocessableEntity
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsDimensionMismatch(err), IsConflict(err):
		return http.StatusConflict
	case HasCode(err, CodeIngestFileUnsupported):
		return http.StatusUnsupportedMediaType
	case HasCode(err, CodeServerPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case IsUnauthorized(err):
		if reason(CodeOf(err)) == "forbidden" {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case IsRateExceeded(err):
		return http.StatusTooManyRequests
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodeServerInternalFailure).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}
	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
