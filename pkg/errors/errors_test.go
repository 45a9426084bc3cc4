package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := ragerr.New(
		ragerr.CodeVectorDimensionMismatch,
		"vector has 8 dimensions, index expects 4",
		ragerr.FieldScope("user_1"),
		ragerr.Field("expected", 4),
	)

	require.Error(t, err)
	assert.Equal(t, ragerr.CodeVectorDimensionMismatch, ragerr.CodeOf(err))
	assert.True(t, ragerr.IsDimensionMismatch(err))

	fields := ragerr.FieldsOf(err)
	assert.Equal(t, "user_1", fields["scope"])
	assert.Equal(t, 4, fields["expected"])
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("disk full")
	err := ragerr.Errorf(ragerr.CodeVectorPersistFailure, "writing index: %w", inner)
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, ragerr.CodeVectorPersistFailure, ragerr.CodeOf(err))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, ragerr.Wrap(nil, ragerr.CodeStoreDatabaseFailure, "noop"))
	assert.NoError(t, ragerr.Wrapf(nil, ragerr.CodeStoreDatabaseFailure, "noop %d", 1))
}

func TestCodeSurvivesStdlibWrapping(t *testing.T) {
	base := ragerr.New(ragerr.CodeStoreDocumentNotFound, "document not found")
	wrapped := fmt.Errorf("loading document: %w", base)

	assert.Equal(t, ragerr.CodeStoreDocumentNotFound, ragerr.CodeOf(wrapped))
	assert.True(t, ragerr.IsNotFound(wrapped))
}

func TestUncodedError(t *testing.T) {
	err := stderrors.New("plain")
	assert.Equal(t, ragerr.Code(""), ragerr.CodeOf(err))
	assert.False(t, ragerr.IsNotFound(err))
	assert.Equal(t, http.StatusInternalServerError, ragerr.HTTPStatus(err))
}

func TestTaxonomyPredicates(t *testing.T) {
	tests := []struct {
		name  string
		code  ragerr.Code
		check func(error) bool
	}{
		{"decode", ragerr.CodeExtractDecodeInvalid, ragerr.IsDecodeError},
		{"embedding upstream", ragerr.CodeEmbeddingUpstreamFailure, ragerr.IsEmbeddingUnavailable},
		{"embedding modality", ragerr.CodeEmbeddingUnsupported, ragerr.IsEmbeddingUnavailable},
		{"dimension mismatch", ragerr.CodeVectorDimensionMismatch, ragerr.IsDimensionMismatch},
		{"generation", ragerr.CodeGenerateUpstreamFailure, ragerr.IsGenerationUnavailable},
		{"not found", ragerr.CodeVectorIndexEmpty, ragerr.IsNotFound},
		{"invalid argument", ragerr.CodeVectorQueryInvalid, ragerr.IsInvalidInput},
		{"unsupported file", ragerr.CodeIngestFileUnsupported, ragerr.IsUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(ragerr.New(tt.code, tt.name)))
		})
	}

	assert.False(t, ragerr.IsEmbeddingUnavailable(ragerr.New(ragerr.CodeEmbeddingRequestInvalid, "empty text")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ragerr.Code
		want int
	}{
		{ragerr.CodeStoreDocumentNotFound, http.StatusNotFound},
		{ragerr.CodeSearchQueryInvalid, http.StatusBadRequest},
		{ragerr.CodeExtractDecodeInvalid, http.StatusUnprocessableEntity},
		{ragerr.CodeVectorDimensionMismatch, http.StatusConflict},
		{ragerr.CodeTaskTransitionInvalid, http.StatusConflict},
		{ragerr.CodeIngestFileUnsupported, http.StatusUnsupportedMediaType},
		{ragerr.CodeServerPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{ragerr.CodeServerAuthUnauthorized, http.StatusUnauthorized},
		{ragerr.CodeServerAuthForbidden, http.StatusForbidden},
		{ragerr.CodeServerRateExceeded, http.StatusTooManyRequests},
		{ragerr.CodeTaskQueueFull, http.StatusServiceUnavailable},
		{ragerr.CodeEmbeddingUpstreamFailure, http.StatusBadGateway},
		{ragerr.CodeGenerateUpstreamFailure, http.StatusBadGateway},
		{ragerr.CodeStoreDatabaseFailure, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, ragerr.HTTPStatus(ragerr.New(tt.code, "x")))
		})
	}
}

func TestJoin(t *testing.T) {
	assert.NoError(t, ragerr.Join(nil, nil))
	err := ragerr.Join(stderrors.New("a"), stderrors.New("b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
}
