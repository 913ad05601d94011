package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/distrohq/salesdesk/pkg/errors"
	"github.com/distrohq/salesdesk/pkg/types"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.ErrorEnvelope {
	t.Helper()
	var envelope types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	return envelope
}

func TestWriteSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"hello": "world"})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var envelope struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	require.Equal(t, "world", envelope.Data["hello"])
}

func TestWriteErrorPassesThroughClientMessages(t *testing.T) {
	rec := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeConflict, "reset the wizard to change the customer")
	WriteError(context.Background(), nil, rec, err)

	require.Equal(t, http.StatusConflict, rec.Code)
	envelope := decodeError(t, rec)
	require.Equal(t, string(pkgerrors.CodeConflict), envelope.Error.Code)
	require.Equal(t, "reset the wizard to change the customer", envelope.Error.Message)
}

func TestWriteErrorHidesInternalMessages(t *testing.T) {
	rec := httptest.NewRecorder()
	err := pkgerrors.Wrap(pkgerrors.CodeInternal, errors.New("pg: connection refused"), "db blew up")
	WriteError(context.Background(), nil, rec, err)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	envelope := decodeError(t, rec)
	require.NotContains(t, envelope.Error.Message, "db blew up")
	require.NotContains(t, envelope.Error.Message, "connection refused")
}

func TestWriteErrorWrapsUntypedErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, errors.New("boom"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	envelope := decodeError(t, rec)
	require.Equal(t, string(pkgerrors.CodeInternal), envelope.Error.Code)
}

func TestWriteErrorIncludesValidationDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "invalid request body").
		WithDetails(map[string]string{"quantity": "quantity must be greater than 0"})
	WriteError(context.Background(), nil, rec, err)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	envelope := decodeError(t, rec)
	require.NotNil(t, envelope.Error.Details)
}

func TestWriteErrorInFlightStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeInFlight, "cart update already in progress")
	WriteError(context.Background(), nil, rec, err)

	require.Equal(t, http.StatusConflict, rec.Code)
	envelope := decodeError(t, rec)
	require.Equal(t, "cart update already in progress", envelope.Error.Message)
}
