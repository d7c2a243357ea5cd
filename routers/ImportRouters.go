package routers

import (
	"github.com/WPS/radvis-sub019/views"
	"github.com/gin-gonic/gin"
)

func ImportRouters(r *gin.Engine, ic *views.ImportController) {
	importRouter := r.Group("/import")
	{
		importRouter.POST("/session", ic.StartImport)
		importRouter.POST("/session/upload", ic.UploadImport)
		importRouter.GET("/session/:id", ic.GetSession)
		importRouter.POST("/session/:id/cancel", ic.CancelSession)
		importRouter.POST("/session/:id/commit", ic.CommitSession)
		importRouter.POST("/session/:id/netzbezug", ic.ManuellerNetzbezug)

		importRouter.GET("/verletzungen", ic.GetVerletzungen)
		importRouter.POST("/verletzungen/run", ic.RunKonsistenzpruefung)

		importRouter.GET("/jobs", ic.GetJobHistory)
	}
}
