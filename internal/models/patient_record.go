package models

import "time"

// PatientRecord holds one patient's lab panel, the ground-truth label used for
// training, and the cached verdict of the most recent prediction.
type PatientRecord struct {
	ID     int64 `db:"id" json:"id"`
	UserID int64 `db:"user_id" json:"user"`

	Age float64 `db:"age" json:"age"`
	BP  float64 `db:"bp" json:"bp"`
	SG  float64 `db:"sg" json:"sg"`
	AL  float64 `db:"al" json:"al"`
	SU  float64 `db:"su" json:"su"`

	RBC string `db:"rbc" json:"rbc"`
	PC  string `db:"pc" json:"pc"`
	PCC string `db:"pcc" json:"pcc"`
	BA  string `db:"ba" json:"ba"`

	BGR  float64 `db:"bgr" json:"bgr"`
	BU   float64 `db:"bu" json:"bu"`
	SC   float64 `db:"sc" json:"sc"`
	SOD  float64 `db:"sod" json:"sod"`
	POT  float64 `db:"pot" json:"pot"`
	HEMO float64 `db:"hemo" json:"hemo"`
	PCV  float64 `db:"pcv" json:"pcv"`
	WC   float64 `db:"wc" json:"wc"`
	RC   float64 `db:"rc" json:"rc"`

	HTN   string `db:"htn" json:"htn"`
	DM    string `db:"dm" json:"dm"`
	CAD   string `db:"cad" json:"cad"`
	Appet string `db:"appet" json:"appet"`
	PE    string `db:"pe" json:"pe"`
	ANE   string `db:"ane" json:"ane"`

	Classification string `db:"classification" json:"classification"`
	Smoker         string `db:"smoker" json:"smoker"`
	CKDStage       string `db:"ckd_stage" json:"ckd_stage"`

	CreatedAt time.Time `db:"created_at" json:"-"`

	// Verdict cache, written only by the prediction pipeline.
	LastPrediction     *string    `db:"last_prediction" json:"last_prediction"`
	LastRecommendation *string    `db:"last_recommendation" json:"last_recommendation"`
	LastConfidence     *float64   `db:"last_confidence" json:"last_confidence"`
	LastPredictedAt    *time.Time `db:"last_predicted_at" json:"last_predicted_at"`
}

// Verdict is the subset of a record the prediction pipeline is allowed to write.
type Verdict struct {
	Prediction     string
	Recommendation string
	Confidence     float64
	PredictedAt    time.Time
}
