package api

import (
	_ "hawkeye-pipeline/internal/api/docs"
	"hawkeye-pipeline/internal/api/handler"
	"hawkeye-pipeline/pkg/router"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

func RegisterRoutes(r *router.Router, h *handler.ArchiveHandler) {
	r.GET("/api/v1/statistics", h.GetStatistics)
	r.GET("/api/v1/runs", h.ListRuns)
	// More specific routes first
	r.GET("/api/v1/runs/*/keywords", h.GetRunKeywords)
	r.GET("/api/v1/runs/*", h.GetRun)
	r.GET("/api/v1/keywords/summary", h.GetKeywordSummary)
	r.GET("/api/v1/keywords", h.ListKeywords)
	r.GET("/api/v1/export/csv", h.ExportCSV)
	r.POST("/api/v1/repair", h.Repair)

	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
