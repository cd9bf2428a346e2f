package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики бизнес-операций.
var (
	allocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fa_allocations_total",
		Help: "Количество попыток распределения диапазонов (по результату).",
	}, []string{"result"})

	allocatedRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fa_allocated_rows_total",
		Help: "Общее количество распределённых строк.",
	})

	sliceDownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fa_slice_downloads_total",
		Help: "Количество скачиваний срезов (по результату).",
	}, []string{"result"})

	sliceRowsStreamedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fa_slice_rows_streamed_total",
		Help: "Общее количество строк данных, отданных в срезах.",
	})

	artifactUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fa_artifact_uploads_total",
		Help: "Количество загрузок архивов с результатом (по результату).",
	}, []string{"result"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fa_verifications_total",
		Help: "Количество проверок результата (approve/reject).",
	}, []string{"action"})
)

// Значения метки result.
const (
	resultOK       = "ok"
	resultConflict = "conflict"
	resultRejected = "rejected"
	resultError    = "error"
)
