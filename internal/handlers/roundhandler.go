package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/jobquest-hive/internal/dtos"
	"github.com/justsurfingit/jobquest-hive/internal/rounds"
)

func (h *DeskHandler) AddRound(c *gin.Context) {
	d, found := h.desk(c)
	if !found {
		return
	}
	var req dtos.AddRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	r, err := d.AddRound(req.RoundName, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": r})
}

// DeleteRound removes a round and renumbers the ones after it.
func (h *DeskHandler) DeleteRound(c *gin.Context) {
	d, found := h.desk(c)
	if !found {
		return
	}
	n, valid := roundParam(c)
	if !valid {
		return
	}
	removed, err := d.DeleteRound(c.Request.Context(), n)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, gin.H{"removed": removed, "rounds": d.View().Rounds})
}

func (h *DeskHandler) RefreshRound(c *gin.Context) {
	d, found := h.desk(c)
	if !found {
		return
	}
	n, valid := roundParam(c)
	if !valid {
		return
	}
	st, err := d.Refresh(c.Request.Context(), n)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, st)
}

// AddCandidates is POST /rounds/:round/candidates with usernames or text.
func (h *DeskHandler) AddCandidates(c *gin.Context) {
	d, found := h.desk(c)
	if !found {
		return
	}
	n, valid := roundParam(c)
	if !valid {
		return
	}
	var req dtos.AddCandidatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var err error
	var res rounds.AddResult
	if len(req.Usernames) > 0 {
		res, err = d.AddUsernames(n, req.Usernames)
	} else {
		res, err = d.AddFromText(n, req.Text)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, res)
}

// UploadCandidates takes a multipart .xlsx or .xls file in the "file" field.
func (h *DeskHandler) UploadCandidates(c *gin.Context) {
	d, found := h.desk(c)
	if !found {
		return
	}
	n, valid := roundParam(c)
	if !valid {
		return
	}
	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("upload exceeds %d bytes", h.MaxUploadBytes)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing spreadsheet in form field \"file\": " + err.Error()})
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	res, err := d.AddFromSheet(n, fh.Filename, f)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, res)
}

// ImportCandidates reads a spreadsheet the frontend staged in object storage.
func (h *DeskHandler) ImportCandidates(c *gin.Context) {
	d, found := h.desk(c)
	if !found {
		return
	}
	n, valid := roundParam(c)
	if !valid {
		return
	}
	var req dtos.ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := d.AddFromObject(c.Request.Context(), n, req.ObjectKey)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, res)
}

func (h *DeskHandler) RemoveCandidate(c *gin.Context) {
	d, found := h.desk(c)
	if !found {
		return
	}
	n, valid := roundParam(c)
	if !valid {
		return
	}
	if err := d.RemoveCandidate(n, c.Param("candidateId")); err != nil {
		writeError(c, err)
		return
	}
	st, err := d.RoundState(n)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, st)
}

func (h *DeskHandler) MoveCandidates(c *gin.Context) {
	d, found := h.desk(c)
	if !found {
		return
	}
	var req dtos.MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := d.Move(req.FromRound, req.ToRound, req.CandidateIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, res)
}

func (h *DeskHandler) ToggleSelection(c *gin.Context) {
	d, found := h.desk(c)
	if !found {
		return
	}
	var req dtos.ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	selected := d.ToggleSelection(req.CandidateID)
	ok(c, gin.H{"candidateId": req.CandidateID, "selected": selected, "selection": d.Selected()})
}

func (h *DeskHandler) SelectAll(c *gin.Context) {
	d, found := h.desk(c)
	if !found {
		return
	}
	var req dtos.RoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ids, err := d.SelectAll(req.Round)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, gin.H{"selection": ids})
}

func (h *DeskHandler) DeselectAll(c *gin.Context) {
	d, found := h.desk(c)
	if !found {
		return
	}
	d.DeselectAll()
	ok(c, gin.H{"selection": d.Selected()})
}

func (h *DeskHandler) DeleteSelected(c *gin.Context) {
	d, found := h.desk(c)
	if !found {
		return
	}
	var req dtos.RoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	removed, err := d.DeleteSelected(req.Round)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, gin.H{"removed": removed})
}

func (h *DeskHandler) MoveSelected(c *gin.Context) {
	d, found := h.desk(c)
	if !found {
		return
	}
	var req dtos.MoveSelectedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := d.MoveSelected(req.FromRound, req.ToRound)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, res)
}

// Publish sends a round to the backend. Usernames the backend did not
// recognise come back in skippedUsers with a warning, still as a 200.
func (h *DeskHandler) Publish(c *gin.Context) {
	d, found := h.desk(c)
	if !found {
		return
	}
	n, valid := roundParam(c)
	if !valid {
		return
	}
	var req dtos.PublishRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := d.Publish(c.Request.Context(), n, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	body := gin.H{"success": true, "data": res}
	if len(res.SkippedUsers) > 0 {
		body["warning"] = fmt.Sprintf("%d of %d usernames were not found and were skipped", len(res.SkippedUsers), len(res.Submitted))
	}
	c.JSON(http.StatusOK, body)
}
