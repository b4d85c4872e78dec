package student_handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"gotest.tools/assert"

	"github.com/Nickchen-PUSH/YatCC-SE/pkg/apikey"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/cluster"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/controller"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/handlers/auth"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/jsonutils"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/store"
)

type env struct {
	engine  *gin.Engine
	store   *store.Store
	ctrl    *controller.Controller
	cluster *cluster.Mock
	codec   *apikey.Codec
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	root := t.TempDir()
	st, err := store.New(store.Options{
		Network:     "tcp",
		Addr:        mr.Addr(),
		StudentsDir: filepath.Join(root, "students"),
		ArchiveDir:  filepath.Join(root, "archive"),
	})
	assert.NilError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	codec, err := apikey.New([]byte("0123456789abcdef0123456789abcdef"))
	assert.NilError(t, err)
	mock := cluster.NewMock()
	ctrl := controller.New(st, mock, codec, controller.Config{
		Image:       "registry.yatcc-se.io/codespace:latest",
		Ports:       []cluster.PortParams{{Name: "http", Port: 80, TargetPort: 443}},
		StudentsDir: filepath.Join(root, "students"),
	})

	engine := gin.New()
	InitStudentRouters(engine, NewHandler(st, ctrl, codec))
	return &env{engine: engine, store: st, ctrl: ctrl, cluster: mock, codec: codec}
}

func (e *env) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	reader := bytes.NewReader(jsonutils.MarshalSilently(body))
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set(auth.StudentAPIKeyName, token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *env) enroll(t *testing.T, sid, pwd string, quota float64) string {
	t.Helper()
	stu := &store.Student{SID: sid, UserInfo: store.UserInfo{Name: "Alice", Mail: "a@example.edu"}}
	stu.Codespace.TimeQuota = quota
	assert.NilError(t, stu.ResetPassword(pwd))
	assert.NilError(t, e.ctrl.CreateStudent(context.Background(), stu))
	token, err := e.codec.Encode(sid)
	assert.NilError(t, err)
	return token
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	e.enroll(t, "s1", "secret", 0)

	// the 200 body is the bare token
	w := e.do(t, http.MethodPost, "/login", LoginRequest{SID: "s1", Pwd: "secret"}, "")
	assert.Equal(t, w.Code, http.StatusOK)
	sid, ok := e.codec.Decode(w.Body.String())
	assert.Assert(t, ok)
	assert.Equal(t, sid, "s1")

	w = e.do(t, http.MethodPost, "/login", LoginRequest{SID: "s1", Pwd: "wrong"}, "")
	assert.Equal(t, w.Code, http.StatusUnauthorized)

	w = e.do(t, http.MethodPost, "/login", LoginRequest{SID: "ghost", Pwd: "secret"}, "")
	assert.Equal(t, w.Code, http.StatusForbidden)

	// credentials are decoded strictly
	w = e.do(t, http.MethodPost, "/login",
		map[string]string{"sid": "s1", "pwd": "secret", "bogus": "x"}, "")
	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestStudentAuth(t *testing.T) {
	e := newEnv(t)
	token := e.enroll(t, "s1", "secret", 0)

	w := e.do(t, http.MethodGet, "/user", nil, "")
	assert.Equal(t, w.Code, http.StatusUnauthorized)

	w = e.do(t, http.MethodGet, "/user", nil, "garbage-token")
	assert.Equal(t, w.Code, http.StatusForbidden)

	w = e.do(t, http.MethodGet, "/user", nil, token)
	assert.Equal(t, w.Code, http.StatusOK)

	// a syntactically valid token of an unenrolled student is rejected
	ghost, err := e.codec.Encode("ghost")
	assert.NilError(t, err)
	w = e.do(t, http.MethodGet, "/user", nil, ghost)
	assert.Equal(t, w.Code, http.StatusForbidden)
}

func TestProfile(t *testing.T) {
	e := newEnv(t)
	token := e.enroll(t, "s1", "secret", 0)

	w := e.do(t, http.MethodGet, "/user", nil, token)
	assert.Equal(t, w.Code, http.StatusOK)
	var profile Profile
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &profile))
	assert.Equal(t, profile.SID, "s1")
	assert.Equal(t, profile.Name, "Alice")

	w = e.do(t, http.MethodPut, "/user",
		UpdateProfileRequest{Name: "Bob", Mail: "b@example.edu"}, token)
	assert.Equal(t, w.Code, http.StatusOK)

	stu, err := e.store.Read(context.Background(), "s1")
	assert.NilError(t, err)
	assert.Equal(t, stu.UserInfo.Name, "Bob")
	assert.Equal(t, stu.UserInfo.Mail, "b@example.edu")
	assert.Assert(t, stu.CheckPassword("secret"))
}

func TestResetPassword(t *testing.T) {
	e := newEnv(t)
	token := e.enroll(t, "s1", "secret", 0)

	// a stolen token alone must not rotate the password
	w := e.do(t, http.MethodPatch, "/user",
		ResetPasswordRequest{OldPwd: "wrong", NewPwd: "rotated"}, token)
	assert.Equal(t, w.Code, http.StatusBadRequest)

	stu, err := e.store.Read(context.Background(), "s1")
	assert.NilError(t, err)
	assert.Assert(t, stu.CheckPassword("secret"))

	w = e.do(t, http.MethodPatch, "/user",
		ResetPasswordRequest{OldPwd: "secret", NewPwd: "rotated"}, token)
	assert.Equal(t, w.Code, http.StatusOK)

	stu, err = e.store.Read(context.Background(), "s1")
	assert.NilError(t, err)
	assert.Assert(t, stu.CheckPassword("rotated"))
	assert.Assert(t, !stu.CheckPassword("secret"))

	w = e.do(t, http.MethodPatch, "/user",
		ResetPasswordRequest{OldPwd: "rotated", NewPwd: ""}, token)
	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestCodespaceLifecycle(t *testing.T) {
	e := newEnv(t)
	token := e.enroll(t, "s1", "secret", 3600)

	// stopped: access_url is false
	w := e.do(t, http.MethodGet, "/codespace/info", nil, token)
	assert.Equal(t, w.Code, http.StatusOK)
	var info CodespaceInfo
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, info.AccessURL, false)
	assert.Equal(t, info.Status, string(store.StatusStopped))
	// space accounting keys are always present
	assert.Assert(t, bytes.Contains(w.Body.Bytes(), []byte("space_quota")))
	assert.Assert(t, bytes.Contains(w.Body.Bytes(), []byte("space_used")))

	w = e.do(t, http.MethodPost, "/codespace", nil, token)
	assert.Equal(t, w.Code, http.StatusOK)
	w = e.do(t, http.MethodPost, "/codespace", nil, token)
	assert.Equal(t, w.Code, http.StatusAccepted)

	w = e.do(t, http.MethodGet, "/codespace/info", nil, token)
	assert.Equal(t, w.Code, http.StatusOK)
	info = CodespaceInfo{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &info))
	url, ok := info.AccessURL.(string)
	assert.Assert(t, ok)
	assert.Assert(t, url != "")
	assert.Equal(t, info.Status, string(store.StatusRunning))

	w = e.do(t, http.MethodGet, "/codespace", nil, token)
	assert.Equal(t, w.Code, http.StatusFound)
	assert.Equal(t, w.Header().Get("Location"), url)

	w = e.do(t, http.MethodPost, "/codespace/keepalive", nil, token)
	assert.Equal(t, w.Code, http.StatusOK)

	w = e.do(t, http.MethodDelete, "/codespace", nil, token)
	assert.Equal(t, w.Code, http.StatusOK)
	w = e.do(t, http.MethodDelete, "/codespace", nil, token)
	assert.Equal(t, w.Code, http.StatusAccepted)

	w = e.do(t, http.MethodPost, "/codespace/keepalive", nil, token)
	assert.Equal(t, w.Code, http.StatusAccepted)
}

func TestStartQuotaExhausted(t *testing.T) {
	e := newEnv(t)
	token := e.enroll(t, "s1", "secret", 100)

	stu, err := e.store.Read(context.Background(), "s1")
	assert.NilError(t, err)
	stu.Codespace.TimeUsed = 100
	assert.NilError(t, e.store.Write(context.Background(), stu))

	w := e.do(t, http.MethodPost, "/codespace", nil, token)
	assert.Equal(t, w.Code, http.StatusPaymentRequired)
}

func TestEnterCodespaceStopped(t *testing.T) {
	e := newEnv(t)
	token := e.enroll(t, "s1", "secret", 0)

	w := e.do(t, http.MethodGet, "/codespace", nil, token)
	assert.Equal(t, w.Code, http.StatusSeeOther)
	assert.Equal(t, w.Header().Get("Location"), "/")
}

func TestEnterCodespaceStarting(t *testing.T) {
	e := newEnv(t)
	token := e.enroll(t, "s1", "secret", 0)

	w := e.do(t, http.MethodPost, "/codespace", nil, token)
	assert.Equal(t, w.Code, http.StatusOK)
	e.cluster.SetStatus("codespace-s1", cluster.JobPending)

	// starting sends the browser back to the portal, not the API path
	w = e.do(t, http.MethodGet, "/codespace", nil, token)
	assert.Equal(t, w.Code, http.StatusTemporaryRedirect)
	assert.Equal(t, w.Header().Get("Location"), "/")
}
