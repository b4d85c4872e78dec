package admin_handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Nickchen-PUSH/YatCC-SE/pkg/controller"
	commonerrors "github.com/Nickchen-PUSH/YatCC-SE/pkg/errors"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/store"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/utils"
)

var (
	jsonContentType = "application/json; charset=utf-8"
)

type Handler struct {
	store *store.Store
	ctrl  *controller.Controller
}

func NewHandler(st *store.Store, ctrl *controller.Controller) *Handler {
	return &Handler{store: st, ctrl: ctrl}
}

type handleFunc func(*gin.Context) (interface{}, error)

func handle(c *gin.Context, fn handleFunc) {
	rsp, err := fn(c)
	if err != nil {
		utils.AbortWithApiError(c, err)
		return
	}
	code := http.StatusOK
	// If a status was previously set, use that status in the response.
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

func codespaceView(info *store.CodespaceInfo) CodespaceView {
	return CodespaceView{
		Status:     string(info.Status),
		URL:        info.URL,
		TimeQuota:  info.TimeQuota,
		TimeUsed:   info.TimeUsed,
		LastStart:  info.LastStart,
		LastStop:   info.LastStop,
		LastActive: info.LastActive,
		LastWatch:  info.LastWatch,
	}
}

func briefOf(stu *store.Student) StudentBrief {
	return StudentBrief{
		ID:   stu.SID,
		Name: stu.UserInfo.Name,
		Mail: stu.UserInfo.Mail,
	}
}

// ListStudents returns the whole roster.
func (h *Handler) ListStudents(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		briefs := []StudentBrief{}
		err := h.store.ForEachStudent(c.Request.Context(), func(stu *store.Student) error {
			briefs = append(briefs, briefOf(stu))
			return nil
		})
		if err != nil {
			return nil, err
		}
		return briefs, nil
	})
}

// CreateStudents enrolls a batch of students. Each entry succeeds or
// fails on its own.
func (h *Handler) CreateStudents(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		var reqs []CreateStudentRequest
		if _, err := utils.ParseRequestBody(c.Request, &reqs); err != nil {
			return nil, err
		}
		if len(reqs) == 0 {
			return nil, commonerrors.NewBadRequest("no students in request body")
		}
		result := newCreateStudentsResult()
		for _, req := range reqs {
			stu := &store.Student{
				SID:      req.ID,
				UserInfo: store.UserInfo{Name: req.Name, Mail: req.Mail},
			}
			stu.Codespace.TimeQuota = req.TimeQuota
			if req.Pwd == "" {
				result.fail(req.ID, commonerrors.NewBadRequest("password is empty"))
				continue
			}
			if err := stu.ResetPassword(req.Pwd); err != nil {
				result.fail(req.ID, err)
				continue
			}
			if err := h.ctrl.CreateStudent(c.Request.Context(), stu); err != nil {
				result.fail(req.ID, err)
				continue
			}
			result.ok(briefOf(stu))
		}
		return result, nil
	})
}

// DeleteStudents unenrolls a batch of students.
func (h *Handler) DeleteStudents(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		var entries []DeleteStudentEntry
		if _, err := utils.ParseRequestBody(c.Request, &entries); err != nil {
			return nil, err
		}
		result := newBatchResult()
		for _, entry := range entries {
			if err := h.ctrl.DeleteStudent(c.Request.Context(), entry.SID); err != nil {
				result.fail(entry.SID, err)
				continue
			}
			result.ok(entry.SID)
		}
		return result, nil
	})
}

func (h *Handler) GetStudent(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		stu, err := h.store.Read(c.Request.Context(), c.Param("sid"))
		if err != nil {
			return nil, err
		}
		return StudentDetail{
			ID:         stu.SID,
			Name:       stu.UserInfo.Name,
			Mail:       stu.UserInfo.Mail,
			Status:     string(stu.Codespace.Status),
			URL:        stu.Codespace.URL,
			TimeQuota:  stu.Codespace.TimeQuota,
			TimeUsed:   stu.Codespace.TimeUsed,
			LastStart:  stu.Codespace.LastStart,
			LastStop:   stu.Codespace.LastStop,
			LastActive: stu.Codespace.LastActive,
			LastWatch:  stu.Codespace.LastWatch,
		}, nil
	})
}

// GetCodespaceInfo reconciles the status first so the admin always sees
// the cluster's view.
func (h *Handler) GetCodespaceInfo(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		sid := c.Param("sid")
		if _, err := h.ctrl.GetStatus(c.Request.Context(), sid); err != nil {
			return nil, err
		}
		stu, err := h.store.Read(c.Request.Context(), sid)
		if err != nil {
			return nil, err
		}
		return codespaceView(&stu.Codespace), nil
	})
}

func (h *Handler) GetCodespaceLogs(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		tail := int64(1000)
		logs, err := h.ctrl.Logs(c.Request.Context(), c.Param("sid"), tail)
		if err != nil {
			return nil, err
		}
		c.Header("Content-Type", "text/plain; charset=utf-8")
		return logs, nil
	})
}

func (h *Handler) SetTimeQuota(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		var req QuotaRequest
		if _, err := utils.ParseRequestBody(c.Request, &req); err != nil {
			return nil, err
		}
		// space_quota is carried on the wire but not yet enforced
		if err := h.ctrl.SetTimeQuota(c.Request.Context(), c.Param("sid"), req.TimeQuota); err != nil {
			return nil, err
		}
		return gin.H{"time_quota": req.TimeQuota, "space_quota": req.SpaceQuota}, nil
	})
}

// StartCodespace starts a single codespace. Already running answers 202.
func (h *Handler) StartCodespace(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		started, err := h.ctrl.Start(c.Request.Context(), c.Param("sid"))
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

// StopCodespace stops a single codespace. Already stopped answers 202.
func (h *Handler) StopCodespace(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		stopped, err := h.ctrl.Stop(c.Request.Context(), c.Param("sid"))
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

// EnterCodespace redirects the admin browser into a student's codespace:
// 302 to the workspace when it is reachable, 307 to the student's
// management page while it is coming up, 303 there otherwise.
func (h *Handler) EnterCodespace(c *gin.Context) {
	sid := c.Param("sid")
	url, starting, err := h.ctrl.GetURL(c.Request.Context(), sid)
	if err != nil {
		utils.AbortWithApiError(c, err)
		return
	}
	managePage := "/student/codespace/manage/" + sid
	switch {
	case url != "":
		c.Redirect(http.StatusFound, url)
	case starting:
		c.Redirect(http.StatusTemporaryRedirect, managePage)
	default:
		c.Redirect(http.StatusSeeOther, managePage)
	}
}

// BatchStartCodespaces starts a batch of codespaces. An already running
// codespace is reported under failed with its reason.
func (h *Handler) BatchStartCodespaces(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		var req BatchCodespaceRequest
		if _, err := utils.ParseRequestBody(c.Request, &req); err != nil {
			return nil, err
		}
		result := newBatchResult()
		for _, sid := range req.IDs {
			started, err := h.ctrl.Start(c.Request.Context(), sid)
			if err != nil {
				result.fail(sid, err)
				continue
			}
			if !started {
				result.fail(sid, commonerrors.NewBadRequest("codespace is already running"))
				continue
			}
			result.ok(sid)
		}
		return result, nil
	})
}

func (h *Handler) BatchStopCodespaces(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		var req BatchCodespaceRequest
		if _, err := utils.ParseRequestBody(c.Request, &req); err != nil {
			return nil, err
		}
		result := newBatchResult()
		for _, sid := range req.IDs {
			stopped, err := h.ctrl.Stop(c.Request.Context(), sid)
			if err != nil {
				result.fail(sid, err)
				continue
			}
			if !stopped {
				result.fail(sid, commonerrors.NewBadRequest("codespace is not running"))
				continue
			}
			result.ok(sid)
		}
		return result, nil
	})
}

// SetAdminAPIKey rotates the shared admin key.
func (h *Handler) SetAdminAPIKey(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		var req APIKeyRequest
		if _, err := utils.ParseRequestBody(c.Request, &req); err != nil {
			return nil, err
		}
		if req.APIKey == "" {
			return nil, commonerrors.NewBadRequest("api key is empty")
		}
		if err := h.store.SetAdminAPIKey(c.Request.Context(), req.APIKey); err != nil {
			return nil, err
		}
		return gin.H{"message": "admin api key updated"}, nil
	})
}
