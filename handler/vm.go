// Package handler provides HTTP handlers for the Firecracker VM daemon API.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"nfcunha/fcvmd/core/models"
	"nfcunha/fcvmd/core/service"
	"nfcunha/fcvmd/utils/sanitize"

	"github.com/gin-gonic/gin"
)

// VMHandler handles VM lifecycle HTTP requests.
type VMHandler struct {
	vmService *service.VMService
}

// NewVMHandler creates a new VM handler.
func NewVMHandler(vmService *service.VMService) *VMHandler {
	return &VMHandler{
		vmService: vmService,
	}
}

// executorContext detaches the executable call from the client connection:
// a disconnecting client must not abort a half-done launch or stop.
func executorContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

// ListVMs handles GET /vms
func (h *VMHandler) ListVMs(c *gin.Context) {
	c.JSON(http.StatusOK, h.vmService.ListVMs(executorContext(c)))
}

// CreateVM handles POST /vms
// An empty body is treated as an empty spec.
func (h *VMHandler) CreateVM(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, "Failed to read request body", err)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	var spec models.VMSpec
	if err := json.Unmarshal(body, &spec); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if spec.VMID != "" {
		if err := models.ValidateVMID(spec.VMID); err != nil {
			badRequest(c, "Invalid vm_id", err)
			return
		}
	}

	result := h.vmService.CreateVM(executorContext(c), spec)

	status := http.StatusCreated
	if !result.Success {
		status = http.StatusBadRequest
	}
	c.JSON(status, result)
}

// GetVM handles GET /vms/:id
func (h *VMHandler) GetVM(c *gin.Context) {
	vmID := c.Param("id")
	if err := models.ValidateVMID(vmID); err != nil {
		badRequest(c, "Invalid vm_id", err)
		return
	}

	c.JSON(http.StatusOK, h.vmService.GetVMStatus(executorContext(c), vmID))
}

// DeleteVM handles DELETE /vms/:id
func (h *VMHandler) DeleteVM(c *gin.Context) {
	vmID := c.Param("id")
	if err := models.ValidateVMID(vmID); err != nil {
		badRequest(c, "Invalid vm_id", err)
		return
	}

	c.JSON(http.StatusOK, h.vmService.DeleteVM(executorContext(c), vmID))
}

// GetActions handles GET /vms/:id/actions
// Query parameters:
//   - limit: integer (max number of entries, default 50)
func (h *VMHandler) GetActions(c *gin.Context) {
	vmID := c.Param("id")

	actions, err := h.vmService.GetActions(vmID, queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "Failed to load actions",
			"detail": sanitize.Sanitize(err.Error()),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"vm_id":         vmID,
		"actions":       actions,
		"count":         len(actions),
		"audit_enabled": h.vmService.AuditEnabled(),
	})
}

// RecentActions handles GET /actions
func (h *VMHandler) RecentActions(c *gin.Context) {
	actions, err := h.vmService.RecentActions(queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "Failed to load actions",
			"detail": sanitize.Sanitize(err.Error()),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"actions":       actions,
		"count":         len(actions),
		"audit_enabled": h.vmService.AuditEnabled(),
	})
}

// queryLimit reads ?limit; anything unparsable means the service default.
func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return n
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   message,
		"detail":  sanitize.Sanitize(err.Error()),
	})
}
