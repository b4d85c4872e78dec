package student_handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Nickchen-PUSH/YatCC-SE/pkg/apikey"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/controller"
	commonerrors "github.com/Nickchen-PUSH/YatCC-SE/pkg/errors"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/handlers/auth"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/jsonutils"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/store"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/utils"
)

var (
	jsonContentType = "application/json; charset=utf-8"
)

type Handler struct {
	store *store.Store
	ctrl  *controller.Controller
	codec *apikey.Codec
}

func NewHandler(st *store.Store, ctrl *controller.Controller, codec *apikey.Codec) *Handler {
	return &Handler{store: st, ctrl: ctrl, codec: codec}
}

type handleFunc func(*gin.Context) (interface{}, error)

func handle(c *gin.Context, fn handleFunc) {
	rsp, err := fn(c)
	if err != nil {
		utils.AbortWithApiError(c, err)
		return
	}
	code := http.StatusOK
	if c.Writer.Status() > 0 {
		code = c.Writer.Status()
	}
	switch rspType := rsp.(type) {
	case []byte:
		c.Data(code, jsonContentType, rspType)
	case string:
		c.Data(code, jsonContentType, []byte(rspType))
	default:
		c.JSON(code, rspType)
	}
}

func sidOf(c *gin.Context) string {
	return c.GetString(auth.ContextSID)
}

// Login exchanges sid and password for the student token; the 200 body
// is the bare token. A wrong password answers 401 and an unknown sid
// 403, so probing for enrolled ids through the login form is not free.
// The credentials payload is decoded strictly, unknown fields are
// rejected.
func (h *Handler) Login(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		body, err := utils.ReadBody(c.Request)
		if err != nil {
			return nil, err
		}
		var req LoginRequest
		if err := jsonutils.UnmarshalWithCheck(body, &req); err != nil {
			return nil, commonerrors.NewBadRequest(err.Error())
		}
		stu, err := h.store.Read(c.Request.Context(), req.SID)
		if err != nil {
			if commonerrors.IsNotFound(err) {
				return nil, commonerrors.NewForbidden("unknown student")
			}
			return nil, err
		}
		if !stu.CheckPassword(req.Pwd) {
			return nil, commonerrors.NewUnauthorized("wrong password")
		}
		token, err := h.codec.Encode(req.SID)
		if err != nil {
			return nil, err
		}
		c.Header("Content-Type", "text/plain; charset=utf-8")
		return token, nil
	})
}

func (h *Handler) GetProfile(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		stu, err := h.store.Read(c.Request.Context(), sidOf(c))
		if err != nil {
			return nil, err
		}
		return Profile{SID: stu.SID, Name: stu.UserInfo.Name, Mail: stu.UserInfo.Mail}, nil
	})
}

// UpdateProfile replaces name and mail.
func (h *Handler) UpdateProfile(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		var req UpdateProfileRequest
		if _, err := utils.ParseRequestBody(c.Request, &req); err != nil {
			return nil, err
		}
		if len(req.Name) > store.MaxNameLen {
			return nil, commonerrors.NewRequestEntityTooLargeError("name is too long")
		}
		if len(req.Mail) > store.MaxMailLen {
			return nil, commonerrors.NewRequestEntityTooLargeError("mail is too long")
		}
		stu, err := h.store.Read(c.Request.Context(), sidOf(c))
		if err != nil {
			return nil, err
		}
		stu.UserInfo.Name = req.Name
		stu.UserInfo.Mail = req.Mail
		if err := h.store.Write(c.Request.Context(), stu); err != nil {
			return nil, err
		}
		return Profile{SID: stu.SID, Name: stu.UserInfo.Name, Mail: stu.UserInfo.Mail}, nil
	})
}

// ResetPassword rotates the password after verifying the old one; a
// token alone is not enough. A wrong old password answers 400.
func (h *Handler) ResetPassword(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		var req ResetPasswordRequest
		if _, err := utils.ParseRequestBody(c.Request, &req); err != nil {
			return nil, err
		}
		if req.NewPwd == "" {
			return nil, commonerrors.NewBadRequest("new password is empty")
		}
		stu, err := h.store.Read(c.Request.Context(), sidOf(c))
		if err != nil {
			return nil, err
		}
		if !stu.CheckPassword(req.OldPwd) {
			return nil, commonerrors.NewBadRequest("old password mismatch")
		}
		if err := stu.ResetPassword(req.NewPwd); err != nil {
			return nil, err
		}
		if err := h.store.Write(c.Request.Context(), stu); err != nil {
			return nil, err
		}
		return gin.H{"message": "password updated"}, nil
	})
}

// GetCodespaceInfo reports the reconciled codespace state of the caller.
func (h *Handler) GetCodespaceInfo(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		sid := sidOf(c)
		url, starting, err := h.ctrl.GetURL(c.Request.Context(), sid)
		if err != nil {
			return nil, err
		}
		stu, err := h.store.Read(c.Request.Context(), sid)
		if err != nil {
			return nil, err
		}
		info := CodespaceInfo{
			Status:     string(stu.Codespace.Status),
			TimeQuota:  stu.Codespace.TimeQuota,
			TimeUsed:   stu.Codespace.TimeUsed,
			LastStart:  stu.Codespace.LastStart,
			LastStop:   stu.Codespace.LastStop,
			LastActive: stu.Codespace.LastActive,
		}
		switch {
		case url != "":
			info.AccessURL = url
		case starting:
			info.AccessURL = true
		default:
			info.AccessURL = false
		}
		return info, nil
	})
}

// StartCodespace starts the caller's codespace. Already running answers
// 202, an exhausted quota 402.
func (h *Handler) StartCodespace(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		started, err := h.ctrl.Start(c.Request.Context(), sidOf(c))
		if err != nil {
			return nil, err
		}
		if !started {
			c.Status(http.StatusAccepted)
			return gin.H{"message": "codespace is already running"}, nil
		}
		return gin.H{"message": "codespace started"}, nil
	})
}

func (h *Handler) StopCodespace(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		stopped, err := h.ctrl.Stop(c.Request.Context(), sidOf(c))
		if err != nil {
			return nil, err
		}
		if !stopped {
			c.Status(http.StatusAccepted)
			return gin.H{"message": "codespace is already stopped"}, nil
		}
		return gin.H{"message": "codespace stopped"}, nil
	})
}

// EnterCodespace redirects the browser into the caller's workspace: 302
// when reachable, 307 to the portal while starting, 303 to the portal
// otherwise.
func (h *Handler) EnterCodespace(c *gin.Context) {
	url, starting, err := h.ctrl.GetURL(c.Request.Context(), sidOf(c))
	if err != nil {
		utils.AbortWithApiError(c, err)
		return
	}
	switch {
	case url != "":
		c.Redirect(http.StatusFound, url)
	case starting:
		c.Redirect(http.StatusTemporaryRedirect, "/")
	default:
		c.Redirect(http.StatusSeeOther, "/")
	}
}

// KeepAlive marks the caller as active. 202 when the codespace is not
// running, so idle clients notice an eviction.
func (h *Handler) KeepAlive(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		alive, err := h.ctrl.KeepAlive(c.Request.Context(), sidOf(c))
		if err != nil {
			return nil, err
		}
		if !alive {
			c.Status(http.StatusAccepted)
			return gin.H{"message": "codespace is not running"}, nil
		}
		return gin.H{"message": "ok"}, nil
	})
}
