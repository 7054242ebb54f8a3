package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mirrorOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "staffhub",
			Subsystem: "mirror",
			Name:      "operations_total",
			Help:      "远程镜像调用次数，按后端、操作与结果区分。",
		},
		[]string{"backend", "op", "result"},
	)

	accessDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "staffhub",
			Name:      "access_degraded_total",
			Help:      "远程成员校验失败导致降级判定的次数。",
		},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "staffhub",
			Subsystem: "upload",
			Name:      "files_total",
			Help:      "文件上传次数，按类型与存放位置区分。",
		},
		[]string{"kind", "placement"},
	)
)

// ObserveMirror 记录一次镜像调用。
func ObserveMirror(backend, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	mirrorOperations.WithLabelValues(backend, op, result).Inc()
}

// AccessDegraded 记录一次降级的访问判定。
func AccessDegraded() { accessDegraded.Inc() }

// ObserveUpload 记录一次上传；placement 为 local 或 dual。
func ObserveUpload(kind, placement string) {
	uploadsTotal.WithLabelValues(kind, placement).Inc()
}

var wsConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "staffhub",
		Subsystem: "ws",
		Name:      "connections",
		Help:      "当前已鉴权的 WebSocket 连接数。",
	},
)

// WebsocketOpened 与 WebsocketClosed 成对调用。
func WebsocketOpened() { wsConnections.Inc() }

func WebsocketClosed() { wsConnections.Dec() }
