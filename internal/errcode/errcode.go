package errcode

// 错误码约定：
// - 0：无错误
// - 4xxx：业务可恢复/告警类错误（例如远程镜像不可用但本地流程可继续）
// - 5xxx：系统错误（需要中断流程）
const (
	OK              = 0
	InvalidInput    = 4000
	Forbidden       = 4003
	ResourceMissing = 4004
	Conflict        = 4009
	RemoteDegraded  = 4010
	SystemError     = 5000
	StorageFailure  = 5001
)
