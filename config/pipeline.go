package config

import (
	"strings"
	"sync"
)

var (
	pipelineOnce   sync.Once
	pipelineConfig *PipelineConfig
)

// PipelineConfig covers ingest admission and billing knobs.
type PipelineConfig struct {
	// Provider selects the OCR backend: "textract" or "tesseract".
	Provider             string
	MaxFileSizeBytes     int64
	AllowedMimeTypes     []string
	EstimateBaseSeconds  int
	EstimateSecondsPerMB int
	CostPerPage          string
	ServerAddr           string
}

func GetPipelineConfig() *PipelineConfig {
	pipelineOnce.Do(func() {
		loadEnv()
		pipelineConfig = &PipelineConfig{
			Provider:             getEnv("OCR_PROVIDER", "tesseract"),
			MaxFileSizeBytes:     int64(getEnvInt("INGEST_MAX_FILE_SIZE", 50*1024*1024)),
			AllowedMimeTypes:     splitList(getEnv("INGEST_ALLOWED_MIME_TYPES", "application/pdf,image/png,image/jpeg,image/jpg,image/tiff")),
			EstimateBaseSeconds:  getEnvInt("INGEST_ESTIMATE_BASE_SEC", 15),
			EstimateSecondsPerMB: getEnvInt("INGEST_ESTIMATE_SEC_PER_MB", 2),
			CostPerPage:          getEnv("USAGE_COST_PER_PAGE", "0.0015"),
			ServerAddr:           getEnv("SERVER_ADDR", ":8080"),
		}
	})
	return pipelineConfig
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
