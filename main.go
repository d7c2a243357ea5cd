package main

import (
	"context"
	"time"

	"github.com/WPS/radvis-sub019/config"
	"github.com/WPS/radvis-sub019/models"
	"github.com/WPS/radvis-sub019/routers"
	"github.com/WPS/radvis-sub019/services"
	"github.com/WPS/radvis-sub019/views"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	if err := models.InitDatabase(); err != nil {
		logrus.WithError(err).Fatal("database initialization failed")
	}
	db := models.GetDB()

	jobs := services.NewJobService(db)
	sessions := services.NewImportSessionService(db, jobs,
		config.MatchingToleranz, config.MindestMatchAnteil, config.ProgressSchrittProzent)
	sessions.Progress = func(sessionID string, prozent int) {
		logrus.WithFields(logrus.Fields{"session_id": sessionID, "prozent": prozent}).Info("import progress")
	}
	regeln := services.NewKonsistenzregelService(db, jobs, config.MatchingToleranz)

	scheduler := services.NewScheduler(regeln, time.Duration(config.KonsistenzIntervallMinuten)*time.Minute)
	go scheduler.Run(context.Background())

	r := gin.Default()
	routers.ImportRouters(r, views.NewImportController(sessions, jobs, regeln))
	if err := r.Run(config.MainRouter); err != nil {
		logrus.WithError(err).Fatal("server stopped")
	}
}
