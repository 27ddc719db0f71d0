package orchestrator

import (
	"strings"

	"cropdoc-backend/internal/i18n"
	"cropdoc-backend/internal/models"
)

// narrationText is what the speaker button reads out for a result.
func narrationText(r *models.DiagnosisResult, lang i18n.Language) string {
	if r == nil {
		return ""
	}

	var parts []string
	if r.Status == models.StatusIrrelevant {
		parts = []string{r.DiseaseName, r.Description}
	} else {
		heading := i18n.T(lang, "identifiedDisease")
		if r.Status == models.StatusHealthy {
			heading = i18n.T(lang, "plantStatus")
		}
		parts = []string{heading, r.DiseaseName, i18n.T(lang, "descriptionLabel"), r.Description}

		switch {
		case r.Status == models.StatusHealthy && len(r.PreventativeMeasures) > 0:
			parts = append(parts, i18n.T(lang, "preventativeMeasuresLabel"))
			parts = append(parts, r.PreventativeMeasures...)
		case r.Status == models.StatusDiseased && len(r.ControlMeasures) > 0:
			parts = append(parts, i18n.T(lang, "controlMeasuresLabel"))
			parts = append(parts, r.ControlMeasures...)
		}
	}

	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ". ")
}
