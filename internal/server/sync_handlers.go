package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/stockroom/internal/replication"
	"github.com/gin-gonic/gin"
)

const maxConflictListing = 50

func (h *httpHandler) handleSync(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request replication.SyncRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	response, err := h.replication.Ingest(c.Request.Context(), actor, request)
	if err != nil {
		h.respondError(c, "sync", err)
		return
	}
	h.publishChanges(request.Changeset().ProductIDs())
	c.JSON(http.StatusOK, response)
}

type syncStatusPayload struct {
	replication.Status
	Conflicts []conflictPayload `json:"recent_conflicts"`
}

type conflictPayload struct {
	Peer            string `json:"peer"`
	EntityKind      string `json:"entity_kind"`
	EntityID        int64  `json:"entity_id"`
	LocalUpdatedAt  int64  `json:"local_updated_at_us"`
	RemoteUpdatedAt int64  `json:"remote_updated_at_us"`
	Resolution      string `json:"resolution"`
	DetectedAt      int64  `json:"detected_at_us"`
}

func (h *httpHandler) handleSyncStatus(c *gin.Context) {
	status, err := h.replication.Status(c.Request.Context())
	if err != nil {
		h.respondError(c, "sync.status", err)
		return
	}
	records, err := replication.RecentConflicts(c.Request.Context(), h.store.DB(), maxConflictListing)
	if err != nil {
		h.respondError(c, "sync.status", err)
		return
	}
	payload := syncStatusPayload{Status: status, Conflicts: make([]conflictPayload, 0, len(records))}
	for _, record := range records {
		payload.Conflicts = append(payload.Conflicts, conflictPayload{
			Peer:            record.Peer,
			EntityKind:      record.EntityKind,
			EntityID:        record.EntityID,
			LocalUpdatedAt:  record.LocalUpdatedAt.Int64(),
			RemoteUpdatedAt: record.RemoteUpdatedAt.Int64(),
			Resolution:      record.Resolution,
			DetectedAt:      record.DetectedAt.Int64(),
		})
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleExport(c *gin.Context) {
	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", replication.FormatJSON)))
	contentType := "application/json"
	switch format {
	case replication.FormatJSON:
	case replication.FormatYAML:
		contentType = "application/yaml"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_format"})
		return
	}

	snapshot, err := h.replication.Export(c.Request.Context())
	if err != nil {
		h.respondError(c, "sync.export", err)
		return
	}
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if err := replication.EncodeSnapshot(c.Writer, snapshot, format); err != nil {
		h.respondError(c, "sync.export", err)
	}
}

type importResponsePayload struct {
	Inserted           int   `json:"inserted"`
	Accepted           int   `json:"accepted"`
	Identical          int   `json:"identical"`
	Conflicts          int   `json:"conflicts"`
	Skipped            int   `json:"skipped"`
	MovementsApplied   int   `json:"movements_applied"`
	MovementsDuplicate int   `json:"movements_duplicate"`
	ImportedAtMicros   int64 `json:"imported_at_us"`
}

func (h *httpHandler) handleImport(c *gin.Context) {
	format := replication.FormatJSON
	if strings.Contains(strings.ToLower(c.ContentType()), "yaml") {
		format = replication.FormatYAML
	}
	snapshot, err := replication.DecodeSnapshot(c.Request.Body, format)
	if err != nil {
		h.respondError(c, "sync.import", err)
		return
	}

	report, err := h.replication.Import(c.Request.Context(), snapshot)
	if err != nil {
		h.respondError(c, "sync.import", err)
		return
	}
	h.publishChanges(snapshot.Changeset().ProductIDs())
	c.JSON(http.StatusOK, importResponsePayload{
		Inserted:           report.Inserted,
		Accepted:           report.Accepted,
		Identical:          report.Identical,
		Conflicts:          report.Conflicts,
		Skipped:            report.Skipped,
		MovementsApplied:   report.MovementsApplied,
		MovementsDuplicate: report.MovementsDuplicate,
		ImportedAtMicros:   report.ImportedAt.Int64(),
	})
}
