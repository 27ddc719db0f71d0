package models

// DiagnosisStatus is the top-level classification of an analyzed image.
type DiagnosisStatus string

const (
	StatusHealthy    DiagnosisStatus = "healthy"
	StatusDiseased   DiagnosisStatus = "diseased"
	StatusIrrelevant DiagnosisStatus = "irrelevant"
)

func (s DiagnosisStatus) Valid() bool {
	switch s {
	case StatusHealthy, StatusDiseased, StatusIrrelevant:
		return true
	}
	return false
}

// DiagnosisResult is produced once per analyzed image and never mutated afterwards.
// ControlMeasures is only set for diseased results and PreventativeMeasures only for
// healthy ones.
type DiagnosisResult struct {
	Status               DiagnosisStatus `json:"status"`
	DiseaseName          string          `json:"diseaseName"`
	Description          string          `json:"description"`
	ControlMeasures      []string        `json:"controlMeasures,omitempty"`
	PreventativeMeasures []string        `json:"preventativeMeasures,omitempty"`
}

// DiagnosisErrorKind tags the four ways an analysis can fail.
type DiagnosisErrorKind string

const (
	ContentBlocked  DiagnosisErrorKind = "content_blocked"
	NoAnalysis      DiagnosisErrorKind = "no_analysis"
	InvalidResponse DiagnosisErrorKind = "invalid_response"
	APIFailure      DiagnosisErrorKind = "api_failure"
)

// DiagnosisError is returned by the diagnosis client for every failure.
// Callers dispatch on Kind; Message is safe to show to the user.
type DiagnosisError struct {
	Kind    DiagnosisErrorKind
	Message string
	Err     error
}

func (e *DiagnosisError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *DiagnosisError) Unwrap() error {
	return e.Err
}
