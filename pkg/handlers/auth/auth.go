// Package auth holds the gin middlewares guarding the two HTTP surfaces:
// a shared admin key for the admin engine and per-student tokens for the
// student engine.
package auth

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/Nickchen-PUSH/YatCC-SE/pkg/apikey"
	commonerrors "github.com/Nickchen-PUSH/YatCC-SE/pkg/errors"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/store"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/utils"
)

const (
	AdminAPIKeyName   = "ADM-API-KEY"
	StudentAPIKeyName = "X-API-KEY"

	// ContextSID carries the authenticated student id through the
	// handler chain.
	ContextSID = "sid"
)

// extractKey looks for the credential in header, cookie and query, in
// that order, so both browsers and curl one-liners work.
func extractKey(c *gin.Context, name string) string {
	if key := c.GetHeader(name); key != "" {
		return key
	}
	if key, err := c.Cookie(name); err == nil && key != "" {
		return key
	}
	return c.Query(name)
}

// AdminAuth rejects requests without the admin key (401) or with a wrong
// one (403).
func AdminAuth(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractKey(c, AdminAPIKeyName)
		if key == "" {
			utils.AbortWithApiError(c, commonerrors.NewUnauthorized("admin api key is missing"))
			return
		}
		want, err := st.AdminAPIKey(c.Request.Context())
		if err != nil {
			utils.AbortWithApiError(c, err)
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(want)) != 1 {
			utils.AbortWithApiError(c, commonerrors.NewForbidden("admin api key mismatch"))
			return
		}
		c.Next()
	}
}

// StudentAuth validates the student token and binds the decoded sid to
// the request context. A token for an unenrolled student is rejected the
// same way as a forged one.
func StudentAuth(st *store.Store, codec *apikey.Codec) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractKey(c, StudentAPIKeyName)
		if token == "" {
			utils.AbortWithApiError(c, commonerrors.NewUnauthorized("student api key is missing"))
			return
		}
		sid, ok := codec.Decode(token)
		if !ok {
			utils.AbortWithApiError(c, commonerrors.NewForbidden("student api key is invalid"))
			return
		}
		if _, err := st.Read(c.Request.Context(), sid); err != nil {
			if commonerrors.IsNotFound(err) {
				utils.AbortWithApiError(c, commonerrors.NewForbidden("student api key is invalid"))
				return
			}
			utils.AbortWithApiError(c, err)
			return
		}
		c.Set(ContextSID, sid)
		c.Next()
	}
}
