package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"staffHub/internal/access"
	"staffHub/internal/api/middleware"
	"staffHub/internal/documents"
	"staffHub/internal/placement"
)

// DocumentHandler 处理文件上传、列表与删除。
type DocumentHandler struct {
	db     *gorm.DB
	docs   *documents.Service
	gate   *access.Gate
	logger *slog.Logger
}

func NewDocumentHandler(db *gorm.DB, docs *documents.Service, gate *access.Gate, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{db: db, docs: docs, gate: gate, logger: logger}
}

// authorizeProfile 解析 :id 并校验写权限，失败时已写入响应。
func (h *DocumentHandler) authorizeProfile(c *gin.Context, log *slog.Logger) (uint, access.Requester, bool) {
	id, ok := uintParam(c, "id")
	if !ok {
		BadRequest(c, "invalid profile id")
		return 0, access.Requester{}, false
	}
	req, ok := requesterOrAbort(c, h.db, log)
	if !ok {
		return 0, req, false
	}
	if d := h.gate.AuthorizeProfile(req, id); !d.Allowed {
		Denied(c, d)
		return 0, req, false
	}
	return id, req, true
}

// UploadDocument 上传证书、工作证明或录用通知。
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	h.upload(c, "")
}

// UploadPicture 上传或替换头像。
func (h *DocumentHandler) UploadPicture(c *gin.Context) {
	h.upload(c, placement.KindProfilePicture)
}

func (h *DocumentHandler) upload(c *gin.Context, kind placement.Kind) {
	log := loggerFor(c, h.logger)
	profileID, req, ok := h.authorizeProfile(c, log)
	if !ok {
		return
	}

	if kind == "" {
		raw := strings.TrimSpace(c.PostForm("document_type"))
		if raw == "" {
			BadRequest(c, "document_type is required")
			return
		}
		parsed, err := placement.ParseKind(raw)
		if err != nil || parsed == placement.KindProfilePicture {
			BadRequest(c, "invalid document_type")
			return
		}
		kind = parsed
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		log.Error("open multipart file failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	defer file.Close()

	result, err := h.docs.Upload(c.Request.Context(), documents.UploadRequest{
		ProfileID:     profileID,
		Kind:          kind,
		Filename:      fileHeader.Filename,
		ContentType:   fileHeader.Header.Get("Content-Type"),
		Size:          fileHeader.Size,
		Body:          file,
		UserID:        req.UserID,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		RespondError(c, log, err)
		return
	}

	body := gin.H{"warnings": result.Warnings}
	if result.Document != nil {
		body["document"] = documents.DocumentView{
			Document: *result.Document,
			Ref:      documents.FileRef(result.Document.LocalPath, result.Document.RemoteID),
		}
	}
	if result.Profile != nil {
		body["profile"] = newProfileResponse(*result.Profile, req.IsAdmin)
	}
	c.JSON(http.StatusCreated, body)
}

// ListDocuments 返回档案的文件列表。
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	log := loggerFor(c, h.logger)
	profileID, _, ok := h.authorizeProfile(c, log)
	if !ok {
		return
	}
	docs, err := h.docs.List(c.Request.Context(), profileID)
	if err != nil {
		RespondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

// DeleteDocument 删除文件记录与本地文件，远程副本尽力删除。
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		BadRequest(c, "invalid document id")
		return
	}
	log := loggerFor(c, h.logger).With(slog.Uint64("document_id", uint64(id)))
	req, ok := requesterOrAbort(c, h.db, log)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	doc, err := h.docs.Get(ctx, id)
	if err != nil {
		RespondError(c, log, err)
		return
	}
	if d := h.gate.AuthorizeProfile(req, doc.ProfileID); !d.Allowed {
		Denied(c, d)
		return
	}

	warnings, err := h.docs.Delete(ctx, id)
	if err != nil {
		RespondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "warnings": warnings})
}
