package app

import (
	"strings"

	"github.com/glycopilot/glycopilot-backend/internal/logger"
	"github.com/glycopilot/glycopilot-backend/internal/utils"
)

type Config struct {
	Port           string
	ModelDir       string
	AllowedOrigins []string
}

func LoadConfig(log *logger.Logger) Config {
	port := utils.GetEnv("PORT", "8080", log)
	modelDir := utils.GetEnv("MODEL_DIR", "./models", log)
	origins := utils.GetEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173", log)
	return Config{
		Port:           port,
		ModelDir:       modelDir,
		AllowedOrigins: strings.Split(origins, ","),
	}
}
