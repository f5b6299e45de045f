package config

import (
	"sync"
)

var (
	textractOnce   sync.Once
	textractConfig *TextractConfig
)

type TextractConfig struct {
	Region        string
	AccessKey     string
	SecretKey     string
	MinConfidence float64
	EnableForms   bool
}

func GetTextractConfig() *TextractConfig {
	textractOnce.Do(func() {
		loadEnv()
		textractConfig = &TextractConfig{
			Region:        getEnv("AWS_REGION", "us-east-1"),
			AccessKey:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretKey:     getEnv("AWS_SECRET_ACCESS_KEY", ""),
			MinConfidence: getEnvFloat("TEXTRACT_MIN_CONFIDENCE", 0),
			EnableForms:   getEnvBool("TEXTRACT_ENABLE_FORMS", true),
		}
	})
	return textractConfig
}
