package verify

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"AVES-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, protected gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// 学生端末からのスキャン（認証なし: トークン署名が本人性の代わり）
	r.POST("/scans", h.Scan)

	// 終了後の欠席確定（教授のみ）
	protected.POST("/sessions/:session_id/absentees", h.MarkAbsentees)
}

// ---------- handlers ----------

// POST /scans
// 非成功の結果も通常のレスポンス（200）。400になるのはリクエストの形が壊れている時だけ。
func (h *Handler) Scan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	res, err := h.svc.VerifyScan(c.Request.Context(), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /sessions/:session_id/absentees
func (h *Handler) MarkAbsentees(c *gin.Context) {
	n, err := h.svc.MarkAbsentees(c.Request.Context(), auth.ProfessorID(c), c.Param("session_id"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked_absent": n})
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
