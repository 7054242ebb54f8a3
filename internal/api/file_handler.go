package api

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"staffHub/internal/access"
	"staffHub/internal/database"
	"staffHub/internal/documents"
	"staffHub/internal/errcode"
	"staffHub/internal/metrics"
	"staffHub/internal/mirror"
	"staffHub/internal/placement"
)

// FileHandler 按访问判定返回本地文件或远程链接。
type FileHandler struct {
	db     *gorm.DB
	docs   *documents.Service
	gate   *access.Gate
	logger *slog.Logger
}

func NewFileHandler(db *gorm.DB, docs *documents.Service, gate *access.Gate, logger *slog.Logger) *FileHandler {
	return &FileHandler{db: db, docs: docs, gate: gate, logger: logger}
}

// ServeFile 处理 /files/*path：documents/...、profile_pictures/... 或 drive:<id>。
func (h *FileHandler) ServeFile(c *gin.Context) {
	ref := strings.TrimPrefix(c.Param("path"), "/")
	if ref == "" {
		BadRequest(c, "file path is required")
		return
	}
	log := loggerFor(c, h.logger).With(slog.String("file", ref))
	defer func() { metrics.ObserveFileRequest(fileSource(ref), c.Writer.Status()) }()

	req, ok := requesterOrAbort(c, h.db, log)
	if !ok {
		return
	}

	if remoteID, ok := mirror.ParseRef(ref); ok {
		h.serveRemote(c, log, req, remoteID)
		return
	}
	h.serveLocal(c, log, req, ref)
}

// fileSource 为指标标签：remote、本地分类目录或 invalid。
func fileSource(ref string) string {
	if _, ok := mirror.ParseRef(ref); ok {
		return "remote"
	}
	if pl, err := placement.ParseLocalPath(ref); err == nil {
		return pl.Category
	}
	return "invalid"
}

func (h *FileHandler) serveRemote(c *gin.Context, log *slog.Logger, req access.Requester, remoteID string) {
	ctx := c.Request.Context()
	target := access.Target{RemoteID: remoteID}
	if doc, err := h.docs.FindByRemoteID(ctx, remoteID); err == nil {
		target = access.TargetOf(*doc)
	} else if !errors.Is(err, errcode.ErrNotFound) {
		RespondError(c, log, err)
		return
	} else {
		var p database.Profile
		if err := h.db.WithContext(ctx).Where("remote_profile_picture_id = ?", remoteID).First(&p).Error; err == nil {
			target.LocalPath = p.ProfilePicture
		}
	}

	d := h.gate.Authorize(ctx, req, target)
	if !d.Allowed {
		log.Info("remote file access denied", slog.String("reason", d.Reason), slog.Bool("degraded", d.Degraded))
		Denied(c, d)
		return
	}

	view, download, err := h.docs.RemoteLinks(ctx, remoteID)
	if err != nil {
		// 远程不可用时，若有本地副本则直接返回本地文件。
		if target.LocalPath != "" {
			log.Warn("remote links unavailable, serving local copy", slog.Any("error", err))
			h.streamLocal(c, log, target.LocalPath)
			return
		}
		if errors.Is(err, mirror.ErrDisabled) {
			NotFound(c, "file not found")
			return
		}
		log.Warn("resolve remote links failed", slog.Any("error", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "remote storage unavailable", "warning": errcode.MessageOf(err)})
		return
	}

	body := gin.H{"view_url": view, "download_url": download}
	if d.Degraded {
		body["warning"] = "remote storage unavailable, access granted by local ownership"
	}
	c.JSON(http.StatusOK, body)
}

func (h *FileHandler) serveLocal(c *gin.Context, log *slog.Logger, req access.Requester, rel string) {
	d := h.gate.Authorize(c.Request.Context(), req, access.Target{LocalPath: rel})
	if !d.Allowed {
		log.Info("local file access denied", slog.String("reason", d.Reason))
		Denied(c, d)
		return
	}
	h.streamLocal(c, log, rel)
}

func (h *FileHandler) streamLocal(c *gin.Context, log *slog.Logger, rel string) {
	f, info, err := h.docs.Open(c.Request.Context(), rel)
	if err != nil {
		RespondError(c, log, err)
		return
	}
	defer f.Close()

	name := path.Base(rel)
	if c.Query("download") != "" {
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Header("X-Content-Type-Options", "nosniff")
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), f)
}
