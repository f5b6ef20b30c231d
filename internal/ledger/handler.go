package ledger

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, protected gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.GET("/students/:student_id/attendances", h.RecordsFor)
	r.GET("/students/:student_id/summary", h.SummaryFor)
	r.GET("/sessions/:session_id/count", h.CountFor)

	// エクスポートは教授側のみ
	protected.GET("/attendances/export", h.ExportCSV)
}

// ---------- handlers ----------

func (h *Handler) RecordsFor(c *gin.Context) {
	res, err := h.svc.RecordsFor(c.Request.Context(), c.Param("student_id"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": res})
}

func (h *Handler) SummaryFor(c *gin.Context) {
	res, err := h.svc.SummaryFor(c.Request.Context(), c.Param("student_id"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CountFor(c *gin.Context) {
	n, err := h.svc.CountFor(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("session_id"), "count": n})
}

// GET /attendances/export?encoding=sjis
func (h *Handler) ExportCSV(c *gin.Context) {
	encoding := c.DefaultQuery("encoding", EncodingUTF8)
	if encoding != EncodingUTF8 && encoding != EncodingSJIS {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "encoding must be utf8 or sjis"))
		return
	}

	contentType := "text/csv; charset=utf-8"
	if encoding == EncodingSJIS {
		contentType = "text/csv; charset=shift_jis"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", `attachment; filename="attendances.csv"`)
	if err := h.svc.ExportCSV(c.Writer, encoding); err != nil {
		// ここまで来るとヘッダ送信済みなのでログに残すだけ
		_ = c.Error(err)
	}
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
