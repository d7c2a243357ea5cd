package views

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb/geojson"
)

// GetVerletzungen renders the current violations as a GeoJSON feature
// collection, optionally filtered by rule type.
func (ic *ImportController) GetVerletzungen(c *gin.Context) {
	verletzungen, err := ic.Regeln.Verletzungen(c.Query("regeltyp"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	fc := geojson.NewFeatureCollection()
	for _, v := range verletzungen {
		for _, raw := range []string{v.Punkt1, v.Punkt2} {
			if raw == "" {
				continue
			}
			var g geojson.Geometry
			if err := json.Unmarshal([]byte(raw), &g); err != nil {
				continue
			}
			feature := geojson.NewFeature(g.Geometry())
			feature.Properties["regel_typ"] = v.RegelTyp
			feature.Properties["identitaet"] = v.Identitaet
			feature.Properties["titel"] = v.Titel
			feature.Properties["beschreibung"] = v.Beschreibung
			feature.Properties["erkannt_am"] = v.ErkanntAm
			feature.Properties["geprueft_am"] = v.GeprueftAm
			fc.Append(feature)
		}
	}
	c.JSON(http.StatusOK, fc)
}

// RunKonsistenzpruefung triggers a rule check run on demand.
func (ic *ImportController) RunKonsistenzpruefung(c *gin.Context) {
	desc, err := ic.Regeln.RunAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, desc)
}

// GetJobHistory returns the execution history of one job type.
func (ic *ImportController) GetJobHistory(c *gin.Context) {
	typ := c.Query("typ")
	if typ == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing job type"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	history, err := ic.Jobs.History(typ, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, history)
}
