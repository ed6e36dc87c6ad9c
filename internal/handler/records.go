package handler

import (
	"net/http"
	"strings"

	"ckd-backend/internal/middleware"
	"ckd-backend/internal/models"
	"ckd-backend/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RecordHandler struct {
	recordService service.RecordService
	importService service.ImportService
	logger        *zap.Logger
}

func NewRecordHandler(recordService service.RecordService, importService service.ImportService, logger *zap.Logger) *RecordHandler {
	return &RecordHandler{recordService: recordService, importService: importService, logger: logger}
}

// PatientRecordRequest is the writable part of a patient record. Lab values
// are pointers so an omitted value is rejected rather than read as zero.
// Verdict cache fields are never accepted from clients.
type PatientRecordRequest struct {
	Age  *float64 `json:"age" binding:"required,gte=0,lte=150"`
	BP   *float64 `json:"bp" binding:"required,gte=0"`
	SG   *float64 `json:"sg" binding:"required,gte=0"`
	AL   *float64 `json:"al" binding:"required,gte=0,lte=5"`
	SU   *float64 `json:"su" binding:"required,gte=0,lte=5"`
	RBC  string   `json:"rbc" binding:"required,oneof=normal abnormal"`
	PC   string   `json:"pc" binding:"required,oneof=normal abnormal"`
	PCC  string   `json:"pcc" binding:"required,oneof=present notpresent"`
	BA   string   `json:"ba" binding:"required,oneof=present notpresent"`
	BGR  *float64 `json:"bgr" binding:"required,gte=0"`
	BU   *float64 `json:"bu" binding:"required,gte=0"`
	SC   *float64 `json:"sc" binding:"required,gte=0"`
	SOD  *float64 `json:"sod" binding:"required,gte=0"`
	POT  *float64 `json:"pot" binding:"required,gte=0"`
	HEMO *float64 `json:"hemo" binding:"required,gte=0"`
	PCV  *float64 `json:"pcv" binding:"required,gte=0"`
	WC   *float64 `json:"wc" binding:"required,gte=0"`
	RC   *float64 `json:"rc" binding:"required,gte=0"`

	HTN   string `json:"htn" binding:"required,oneof=yes no"`
	DM    string `json:"dm" binding:"required,oneof=yes no"`
	CAD   string `json:"cad" binding:"required,oneof=yes no"`
	Appet string `json:"appet" binding:"required,oneof=good poor"`
	PE    string `json:"pe" binding:"required,oneof=yes no"`
	ANE   string `json:"ane" binding:"required,oneof=yes no"`

	Classification string `json:"classification" binding:"required,oneof=ckd notckd"`
	Smoker         string `json:"smoker" binding:"omitempty,oneof=yes no"`
	CKDStage       string `json:"ckd_stage" binding:"omitempty,max=20"`
}

// record must only be called after binding succeeded.
func (r *PatientRecordRequest) record() *models.PatientRecord {
	rec := &models.PatientRecord{
		Age: *r.Age, BP: *r.BP, SG: *r.SG, AL: *r.AL, SU: *r.SU,
		RBC: r.RBC, PC: r.PC, PCC: r.PCC, BA: r.BA,
		BGR: *r.BGR, BU: *r.BU, SC: *r.SC, SOD: *r.SOD, POT: *r.POT,
		HEMO: *r.HEMO, PCV: *r.PCV, WC: *r.WC, RC: *r.RC,
		HTN: r.HTN, DM: r.DM, CAD: r.CAD, Appet: r.Appet, PE: r.PE, ANE: r.ANE,
		Classification: r.Classification,
		Smoker:         r.Smoker,
		CKDStage:       r.CKDStage,
	}
	if rec.Smoker == "" {
		rec.Smoker = "no"
	}
	if rec.CKDStage == "" {
		rec.CKDStage = "early"
	}
	return rec
}

// GET /api/records/me
func (h *RecordHandler) GetOwn(c *gin.Context) {
	rec, err := h.recordService.GetOwn(c.Request.Context(), middleware.ActorFrom(c).UserID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to fetch record")
		return
	}
	c.JSON(http.StatusOK, rec)
}

// SaveOwn creates or replaces the caller's lab values.
// POST /api/records/
func (h *RecordHandler) SaveOwn(c *gin.Context) {
	var req PatientRecordRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.recordService.SaveOwn(c.Request.Context(), middleware.ActorFrom(c).UserID, req.record())
	if err != nil {
		respondError(c, h.logger, err, "Failed to save record")
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// GET /api/records/:user_id/
func (h *RecordHandler) GetForUser(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	rec, err := h.recordService.GetForUser(c.Request.Context(), middleware.ActorFrom(c), userID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to fetch record")
		return
	}
	c.JSON(http.StatusOK, rec)
}

// PUT /api/records/:user_id/
func (h *RecordHandler) UpdateForUser(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var req PatientRecordRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.recordService.UpdateForUser(c.Request.Context(), middleware.ActorFrom(c), userID, req.record())
	if err != nil {
		respondError(c, h.logger, err, "Failed to update record")
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Import replaces every patient with the rows of an uploaded CSV or XLSX file.
// POST /api/records/import
func (h *RecordHandler) Import(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	name := strings.ToLower(file.Filename)
	if !strings.HasSuffix(name, ".csv") && !strings.HasSuffix(name, ".xlsx") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file must be .csv or .xlsx"})
		return
	}

	f, err := file.Open()
	if err != nil {
		h.logger.Error("Failed to open uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}
	defer f.Close()

	res, err := h.importService.Import(c.Request.Context(), middleware.ActorFrom(c), file.Filename, f)
	if err != nil {
		respondError(c, h.logger, err, "Failed to import patient data")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Successfully re-imported all patient data",
		"imported": res.Imported,
	})
}
