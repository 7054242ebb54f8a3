// Package access 判断用户能否读写某个已存储的文件。
package access

import (
	"context"
	"log/slog"

	"staffHub/internal/database"
	"staffHub/internal/metrics"
	"staffHub/internal/mirror"
	"staffHub/internal/placement"
)

// Requester 为请求方身份，尚未关联员工档案时 Profile 为 nil。
type Requester struct {
	UserID  uint
	IsAdmin bool
	Profile *database.Profile
}

// Target 为待访问的文件：本地相对路径、远程 id，或二者兼有。
type Target struct {
	LocalPath string
	RemoteID  string
}

// TargetOf 由文档记录构造 Target，两者都有时优先校验远程 id。
func TargetOf(doc database.Document) Target {
	return Target{LocalPath: doc.LocalPath, RemoteID: doc.RemoteID}
}

// Decision 为鉴权结果。远程成员校验失败、改按本地策略判定时
// Degraded 为 true。
type Decision struct {
	Allowed  bool
	Degraded bool
	Reason   string
}

const (
	ReasonAdmin          = "admin"
	ReasonOwner          = "owner"
	ReasonNoProfile      = "no linked profile"
	ReasonNotOwner       = "file belongs to another profile"
	ReasonNoRemoteFolder = "profile has no remote folder"
	ReasonBadPath        = "malformed file path"
	ReasonRemoteError    = "remote membership check failed"
	ReasonNoTarget       = "nothing to access"
)

// Gate 执行访问判定。
type Gate struct {
	mirror   mirror.Mirror
	failOpen bool
	logger   *slog.Logger
}

// NewGate 构造 Gate。failOpen 为 true 时远程校验出错也放行。
func NewGate(m mirror.Mirror, failOpen bool, logger *slog.Logger) *Gate {
	if m == nil {
		m = mirror.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{mirror: m, failOpen: failOpen, logger: logger}
}

// Authorize 判断 req 能否读取 target。
func (g *Gate) Authorize(ctx context.Context, req Requester, target Target) Decision {
	if req.IsAdmin {
		return Decision{Allowed: true, Reason: ReasonAdmin}
	}
	if req.Profile == nil {
		return Decision{Reason: ReasonNoProfile}
	}

	if target.RemoteID != "" {
		d := g.authorizeRemote(ctx, req, target.RemoteID)
		// 远程校验失败时，双份存放的文件退回本地目录判定。
		if d.Degraded && target.LocalPath != "" {
			local := authorizeLocal(req.Profile, target.LocalPath)
			local.Degraded = true
			return local
		}
		return d
	}
	if target.LocalPath != "" {
		return authorizeLocal(req.Profile, target.LocalPath)
	}
	return Decision{Reason: ReasonNoTarget}
}

func (g *Gate) authorizeRemote(ctx context.Context, req Requester, remoteID string) Decision {
	folder := req.Profile.RemoteFolderID
	if folder == "" {
		return Decision{Reason: ReasonNoRemoteFolder}
	}

	ok, err := g.mirror.IsMember(ctx, remoteID, folder)
	if err != nil {
		metrics.AccessDegraded()
		g.logger.Warn("access decision degraded",
			slog.Uint64("user_id", uint64(req.UserID)),
			slog.String("remote_id", remoteID),
			slog.Bool("fail_open", g.failOpen),
			slog.Any("error", err),
		)
		return Decision{Allowed: g.failOpen, Degraded: true, Reason: ReasonRemoteError}
	}
	if !ok {
		return Decision{Reason: ReasonNotOwner}
	}
	return Decision{Allowed: true, Reason: ReasonOwner}
}

func authorizeLocal(profile *database.Profile, rel string) Decision {
	pl, err := placement.ParseLocalPath(rel)
	if err != nil {
		return Decision{Reason: ReasonBadPath}
	}
	if profile.StorageKey == "" || pl.Dir != profile.StorageKey {
		return Decision{Reason: ReasonNotOwner}
	}
	return Decision{Allowed: true, Reason: ReasonOwner}
}

// AuthorizeProfile 判断能否修改指定档案：管理员总是可以，其余仅限本人。
func (g *Gate) AuthorizeProfile(req Requester, profileID uint) Decision {
	if req.IsAdmin {
		return Decision{Allowed: true, Reason: ReasonAdmin}
	}
	if req.Profile == nil {
		return Decision{Reason: ReasonNoProfile}
	}
	if req.Profile.ID != profileID {
		return Decision{Reason: ReasonNotOwner}
	}
	return Decision{Allowed: true, Reason: ReasonOwner}
}
