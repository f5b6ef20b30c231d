package session

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"AVES-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

// RegisterRoutes: r は公開（読み取り）、protected は教授トークン必須の変更系
func RegisterRoutes(r gin.IRoutes, protected gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// 読み取り
	r.GET("/classes", h.ListClasses)
	r.GET("/classes/:class_id", h.GetClass)
	r.GET("/sessions/:session_id", h.GetSession)

	// 変更系（所有者チェックは service 側）
	protected.POST("/classes", h.CreateClass)
	protected.PUT("/classes/:class_id", h.UpdateClass)
	protected.POST("/classes/:class_id/sessions", h.StartSession)
	protected.DELETE("/classes/:class_id/sessions", h.EndSession)
	protected.GET("/sessions/:session_id/token", h.CurrentToken)
}

// ---------- handlers ----------

func (h *Handler) CreateClass(c *gin.Context) {
	var req CreateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	res, err := h.svc.CreateClass(c.Request.Context(), auth.ProfessorID(c), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.Header("Location", "/classes/"+res.ClassID)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) UpdateClass(c *gin.Context) {
	var req UpdateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.UpdateClass(c.Request.Context(), auth.ProfessorID(c), c.Param("class_id"), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListClasses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"classes": h.svc.ListClasses(c.Request.Context())})
}

func (h *Handler) GetClass(c *gin.Context) {
	res, err := h.svc.GetClass(c.Request.Context(), c.Param("class_id"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	// ボディ省略可（デフォルト値で開始）
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
			return
		}
	}
	res, err := h.svc.StartSession(c.Request.Context(), auth.ProfessorID(c), c.Param("class_id"), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.Header("Location", "/sessions/"+res.SessionID)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) EndSession(c *gin.Context) {
	res, err := h.svc.EndSession(c.Request.Context(), auth.ProfessorID(c), c.Param("class_id"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	if res == nil {
		// ライブセッション無し → no-op
		c.JSON(http.StatusOK, gin.H{"message": "no live session"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetSession(c *gin.Context) {
	res, err := h.svc.GetSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CurrentToken(c *gin.Context) {
	res, err := h.svc.CurrentToken(c.Request.Context(), auth.ProfessorID(c), c.Param("session_id"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// ---------- helpers ----------

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func errorFromErr(err error) errorDTO {
	var msg string
	var code Code = CodeInternal
	if api, ok := err.(*APIError); ok {
		code, msg = api.Code, api.Message
	} else {
		msg = err.Error()
	}
	return errorBody(code, msg)
}
