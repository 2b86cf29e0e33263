package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"omip-curator/apperr"
	"omip-curator/auth"
	"omip-curator/models"
	"omip-curator/repository"
	"omip-curator/services"

	"github.com/gin-gonic/gin"
)

// readUploads collects the files of a multipart request.
func (h *handler) readUploads(c *gin.Context) ([]services.Upload, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.max)
	form, err := c.MultipartForm()
	if err != nil {
		return nil, apperr.Validation("invalid multipart body: %v", err)
	}
	files := form.File["files"]
	if len(files) == 0 {
		files = form.File["file"]
	}
	if len(files) == 0 {
		return nil, apperr.Validation("no files uploaded")
	}
	out := make([]services.Upload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, apperr.Validation("open %s: %v", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, apperr.Validation("read %s: %v", fh.Filename, err)
		}
		out = append(out, services.Upload{Filename: fh.Filename, Data: data})
	}
	return out, nil
}

func setupUploadRoutes(rg *gin.RouterGroup, h *handler) {
	rg.POST("/uploads", h.require(auth.Upload), func(c *gin.Context) {
		uploads, err := h.readUploads(c)
		if err != nil {
			h.fail(c, err)
			return
		}
		results, err := h.svc.IngestMany(c.Request.Context(), uploads)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"papers": results})
	})

	type parseRequest struct {
		PaperIDs []uint `json:"paper_ids"`
	}
	rg.POST("/parse", h.require(auth.Schedule), func(c *gin.Context) {
		var req parseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		progress, err := h.svc.ScheduleParse(c.Request.Context(), req.PaperIDs)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"batch_id": progress.BatchID, "total_count": progress.TotalCount})
	})
}

func setupBatchRoutes(rg *gin.RouterGroup, h *handler) {
	rg.POST("/batches/parse", h.require(auth.Upload), h.require(auth.Schedule), func(c *gin.Context) {
		uploads, err := h.readUploads(c)
		if err != nil {
			h.fail(c, err)
			return
		}
		progress, err := h.svc.IngestAndSchedule(c.Request.Context(), uploads)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"batch_id": progress.BatchID, "total_count": progress.TotalCount})
	})

	batches := rg.Group("/batches", h.require(auth.ViewBatches))
	batches.GET("", func(c *gin.Context) {
		limit, offset, ok := pageParams(c, 50)
		if !ok {
			return
		}
		out, err := h.svc.ListBatches(c.Request.Context(), limit, offset)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})
	batches.GET("/:id", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		progress, err := h.svc.BatchProgress(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, progress)
	})
	batches.GET("/:id/runs", func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		runs, err := h.svc.BatchRuns(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, runs)
	})
}

// runFilter reads the run listing filters from the query string.
func runFilter(c *gin.Context) (repository.RunFilter, bool) {
	f := repository.RunFilter{
		ReviewStatus: models.ReviewStatus(c.Query("review_status")),
		JobStatus:    models.JobStatus(c.Query("job_status")),
	}
	for name, dst := range map[string]*uint{"paper_id": &f.DocumentID, "batch_id": &f.BatchID} {
		if v := c.Query(name); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
				return f, false
			}
			*dst = uint(n)
		}
	}
	limit, offset, ok := pageParams(c, 50)
	if !ok {
		return f, false
	}
	f.Limit, f.Offset = limit, offset
	return f, true
}

func setupRunRoutes(rg *gin.RouterGroup, h *handler) {
	runs := rg.Group("/runs")

	runs.GET("", h.require(auth.ViewRuns), func(c *gin.Context) {
		f, ok := runFilter(c)
		if !ok {
			return
		}
		out, err := h.svc.ListRuns(c.Request.Context(), f)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})
	runs.GET("/count", h.require(auth.ViewRuns), func(c *gin.Context) {
		f, ok := runFilter(c)
		if !ok {
			return
		}
		n, err := h.svc.CountRuns(c.Request.Context(), f)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	})
	runs.GET("/:id", h.require(auth.ViewRuns), func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		detail, err := h.svc.RunDetail(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, detail)
	})
	runs.PUT("/:id/metadata", h.require(auth.EditRuns), func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var fields models.MetadataFields
		if err := c.ShouldBindJSON(&fields); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		detail, err := h.svc.EditMetadata(c.Request.Context(), id, fields)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, detail)
	})
	runs.PUT("/:id/parser", h.require(auth.EditRuns), func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		raw, err := c.GetRawData()
		if err != nil || !json.Valid(raw) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		detail, err := h.svc.ImportParserPayload(c.Request.Context(), id, raw)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, detail)
	})
	runs.GET("/:id/parser", h.require(auth.ViewRuns), func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		view, err := h.svc.RunParserView(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", view)
	})
	runs.GET("/:id/versions", h.require(auth.ViewRuns), func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		versions, err := h.svc.Versions(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, versions)
	})
	runs.GET("/:id/versions/:vid", h.require(auth.ViewRuns), func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		vid, ok := idParam(c, "vid")
		if !ok {
			return
		}
		view, err := h.svc.VersionView(c.Request.Context(), id, vid)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})
	runs.POST("/:id/retry", h.require(auth.Retry), func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		detail, err := h.svc.RetryRun(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, detail)
	})
	runs.POST("/retry-failed", h.require(auth.Retry), func(c *gin.Context) {
		sum, err := h.svc.RetryAllFailed(c.Request.Context())
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"retried_count": len(sum.Retried),
			"retried":       sum.Retried,
			"failed":        sum.Failed,
		})
	})
}

func setupElementRoutes(rg *gin.RouterGroup, h *handler) {
	patch := func(kind models.ElementType) gin.HandlerFunc {
		return func(c *gin.Context) {
			id, ok := idParam(c, "id")
			if !ok {
				return
			}
			var edit models.ElementEdit
			if err := c.ShouldBindJSON(&edit); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
			view, err := h.svc.EditElement(c.Request.Context(), id, kind, edit)
			if err != nil {
				h.fail(c, err)
				return
			}
			c.JSON(http.StatusOK, view)
		}
	}
	rg.PATCH("/tables/:id", h.require(auth.EditElements), patch(models.ElementTable))
	rg.PATCH("/figures/:id", h.require(auth.EditElements), patch(models.ElementFigure))
}

func setupReviewRoutes(rg *gin.RouterGroup, h *handler) {
	review := func(approve bool) gin.HandlerFunc {
		return func(c *gin.Context) {
			id, ok := idParam(c, "id")
			if !ok {
				return
			}
			var (
				detail models.RunDetail
				err    error
			)
			if approve {
				detail, err = h.svc.Approve(c.Request.Context(), id)
			} else {
				detail, err = h.svc.Reject(c.Request.Context(), id)
			}
			if err != nil {
				h.fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"run_id": detail.ID, "status": detail.ReviewStatus})
		}
	}
	rg.POST("/reviews/:id/approve", h.require(auth.Review), review(true))
	rg.POST("/reviews/:id/reject", h.require(auth.Review), review(false))
}

func setupPaperRoutes(rg *gin.RouterGroup, h *handler) {
	papers := rg.Group("/papers")

	papers.GET("", h.require(auth.ViewOfficial), func(c *gin.Context) {
		limit, offset, ok := pageParams(c, 20)
		if !ok {
			return
		}
		out, err := h.svc.ListDocuments(c.Request.Context(), limit, offset)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})
	papers.GET("/count", h.require(auth.ViewOfficial), func(c *gin.Context) {
		n, err := h.svc.CountDocuments(c.Request.Context())
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	})
	papers.GET("/:id", h.require(auth.ViewOfficial), func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		view, err := h.svc.OfficialView(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		if view.Run == nil && !h.can(c, auth.ViewDraft) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no approved data"})
			return
		}
		c.JSON(http.StatusOK, view)
	})
	papers.GET("/:id/draft", h.require(auth.ViewDraft), func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		view, err := h.svc.DraftView(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})
	papers.GET("/:id/parser", h.require(auth.ViewDraft), func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		view, err := h.svc.DocumentParserView(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", view)
	})
	papers.DELETE("/:id", h.require(auth.DeleteDocuments), func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		if err := h.svc.DeleteDocument(c.Request.Context(), id); err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	papers.DELETE("", h.require(auth.DeleteDocuments), func(c *gin.Context) {
		n, err := h.svc.DeleteAllDocuments(c.Request.Context())
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "deleted_count": n})
	})
}

func setupExportRoutes(rg *gin.RouterGroup, h *handler) {
	rg.GET("/export", h.require(auth.Export), func(c *gin.Context) {
		if f := c.DefaultQuery("format", "json"); f != "json" {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported export format %q", f)})
			return
		}
		records, err := h.svc.ExportApproved(c.Request.Context())
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Header("Content-Disposition", "attachment; filename=approved_data.json")
		c.IndentedJSON(http.StatusOK, records)
	})
}
