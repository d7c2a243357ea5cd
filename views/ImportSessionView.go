package views

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/WPS/radvis-sub019/Transformer"
	"github.com/WPS/radvis-sub019/config"
	"github.com/WPS/radvis-sub019/models"
	"github.com/WPS/radvis-sub019/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ImportController struct {
	Sessions *services.ImportSessionService
	Jobs     *services.JobService
	Regeln   *services.KonsistenzregelService
}

func NewImportController(sessions *services.ImportSessionService, jobs *services.JobService, regeln *services.KonsistenzregelService) *ImportController {
	return &ImportController{Sessions: sessions, Jobs: jobs, Regeln: regeln}
}

// StartImport starts a session over a configured WFS feed.
func (ic *ImportController) StartImport(c *gin.Context) {
	var jsonData StartImportData
	if err := c.BindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if jsonData.Typ != models.ImportTypNetzklasse && jsonData.Typ != models.ImportTypMassnahme {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown import type: " + jsonData.Typ})
		return
	}
	url := config.WFSQuelleURL(jsonData.Quelle)
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown feature source: " + jsonData.Quelle})
		return
	}
	session, err := ic.Sessions.Start(c.Request.Context(), services.StartOptions{
		Typ:          jsonData.Typ,
		Organisation: jsonData.Organisation,
		Benutzer:     jsonData.Benutzer,
		Netzklasse:   jsonData.Netzklasse,
		Source:       services.NewWFSSource(jsonData.Quelle, url),
	})
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// UploadImport starts a session over an uploaded shapefile, processed
// synchronously.
func (ic *ImportController) UploadImport(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".shp") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only .shp uploads are supported"})
		return
	}
	uploadDir := filepath.Join(config.Download, "Import", uuid.NewString())
	if err := os.MkdirAll(uploadDir, os.ModePerm); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	dst := filepath.Join(uploadDir, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	typ := c.PostForm("typ")
	if typ != models.ImportTypNetzklasse && typ != models.ImportTypMassnahme {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown import type: " + typ})
		return
	}
	quelle := "upload:" + strings.TrimSuffix(filepath.Base(file.Filename), ".shp")
	features, skipped, err := Transformer.ConvertSHPToFeatures(dst, quelle)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := ic.Sessions.StartSynchron(c.Request.Context(), services.StartOptions{
		Typ:          typ,
		Organisation: c.PostForm("organisation"),
		Benutzer:     c.PostForm("benutzer"),
		Netzklasse:   c.PostForm("netzklasse"),
		Source:       services.NewStaticSource(quelle, features),
	})
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "uebersprungen": skipped})
}

// GetSession returns the session snapshot, its log and its per-feature
// outcomes.
func (ic *ImportController) GetSession(c *gin.Context) {
	id := c.Param("id")
	session, err := ic.Sessions.Get(id)
	if err != nil {
		sessionError(c, err)
		return
	}
	log, err := ic.Sessions.Log(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	zuordnungen, err := ic.Sessions.Zuordnungen(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "log": log, "zuordnungen": zuordnungen})
}

func (ic *ImportController) CancelSession(c *gin.Context) {
	var jsonData SessionActionData
	if err := c.BindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := ic.Sessions.Cancel(c.Param("id"), jsonData.Benutzer); err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.SessionAbgebrochen})
}

func (ic *ImportController) CommitSession(c *gin.Context) {
	var jsonData SessionActionData
	if err := c.BindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := ic.Sessions.Commit(c.Request.Context(), c.Param("id"), jsonData.Benutzer); err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.SessionCommitted})
}

func (ic *ImportController) ManuellerNetzbezug(c *gin.Context) {
	var jsonData ManuellerNetzbezugData
	if err := c.BindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := ic.Sessions.ManuellerNetzbezug(c.Param("id"), jsonData.Benutzer, jsonData.ZuordnungID, &jsonData.Netzbezug)
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"zuordnung_id": jsonData.ZuordnungID})
}

func sessionError(c *gin.Context, err error) {
	var nichtMoeglich *services.ManuellerImportNichtMoeglichError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, services.ErrSessionConflict), errors.Is(err, services.ErrUngueltigerUebergang):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNichtBerechtigt):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &nichtMoeglich):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
