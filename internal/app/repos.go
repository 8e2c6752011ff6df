package app

import (
	"gorm.io/gorm"

	"github.com/glycopilot/glycopilot-backend/internal/logger"
	"github.com/glycopilot/glycopilot-backend/internal/repos"
)

type Repos struct {
	CgmReading  repos.CgmReadingRepo
	MealEvent   repos.MealEventRepo
	FinetuneRun repos.FinetuneRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		CgmReading:  repos.NewCgmReadingRepo(db, log),
		MealEvent:   repos.NewMealEventRepo(db, log),
		FinetuneRun: repos.NewFinetuneRunRepo(db, log),
	}
}
