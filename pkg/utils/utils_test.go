package utils

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gotest.tools/assert"

	commonerrors "github.com/Nickchen-PUSH/YatCC-SE/pkg/errors"
)

func TestReadBodyLimit(t *testing.T) {
	small := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello"))
	data, err := ReadBody(small)
	assert.NilError(t, err)
	assert.Equal(t, string(data), "hello")

	big := httptest.NewRequest(http.MethodPost, "/",
		bytes.NewReader(make([]byte, DefaultMaxRequestBodyBytes+1)))
	_, err = ReadBody(big)
	assert.Equal(t, commonerrors.GetErrorCode(err), commonerrors.RequestEntityTooLarge)
}

func TestParseRequestBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"alice"}`))
	var p payload
	_, err := ParseRequestBody(req, &p)
	assert.NilError(t, err)
	assert.Equal(t, p.Name, "alice")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{bad json`))
	_, err = ParseRequestBody(req, &p)
	assert.Assert(t, commonerrors.IsBadRequest(err))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	body, err := ParseRequestBody(req, &p)
	assert.NilError(t, err)
	assert.Assert(t, body == nil)
}

func TestAbortWithApiError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	testCases := []struct {
		name     string
		err      error
		httpCode int
		code     string
	}{
		{
			name:     "typed not found",
			err:      commonerrors.NewNotFound("student", "s1"),
			httpCode: http.StatusNotFound,
			code:     commonerrors.NotFound,
		},
		{
			name:     "typed quota",
			err:      commonerrors.NewQuotaExhausted("s1"),
			httpCode: http.StatusPaymentRequired,
			code:     commonerrors.QuotaExhausted,
		},
		{
			name:     "plain error becomes internal",
			err:      fmt.Errorf("boom"),
			httpCode: http.StatusInternalServerError,
			code:     commonerrors.InternalError,
		},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			AbortWithApiError(c, test.err)
			assert.Equal(t, w.Code, test.httpCode)
			assert.Assert(t, bytes.Contains(w.Body.Bytes(), []byte(test.code)))
		})
	}
}
