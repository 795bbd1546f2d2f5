package handlers

import (
	"errors"
	"log"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/account-backup-manager/internal/destination"
)

// DestinationHandler handles destination management requests
type DestinationHandler struct {
	store *destination.Store
}

// NewDestinationHandler creates a new destination handler
func NewDestinationHandler(store *destination.Store) *DestinationHandler {
	return &DestinationHandler{store: store}
}

// sanitizedDestination is a destination with credential values stripped;
// secrets never leave the server once stored.
type sanitizedDestination struct {
	*destination.Destination
	Credentials    map[string]string `json:"credentials,omitempty"`
	CredentialKeys []string          `json:"credential_keys,omitempty"`
}

func sanitize(dest *destination.Destination) *sanitizedDestination {
	keys := make([]string, 0, len(dest.Credentials))
	for key := range dest.Credentials {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return &sanitizedDestination{Destination: dest, CredentialKeys: keys}
}

// ListDestinations returns all configured destinations
// GET /api/v1/destinations
func (h *DestinationHandler) ListDestinations(c *gin.Context) {
	dests, err := h.store.List()
	if err != nil {
		log.Printf("[API] Failed to list destinations: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list destinations"})
		return
	}

	sanitized := make([]*sanitizedDestination, 0, len(dests))
	for _, dest := range dests {
		sanitized = append(sanitized, sanitize(dest))
	}

	c.JSON(http.StatusOK, gin.H{"destinations": sanitized})
}

// GetDestination returns one destination
// GET /api/v1/destinations/:id
func (h *DestinationHandler) GetDestination(c *gin.Context) {
	dest, err := h.store.Get(c.Param("id"))
	if errors.Is(err, destination.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Destination not found"})
		return
	}
	if err != nil {
		log.Printf("[API] Failed to get destination: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get destination"})
		return
	}

	c.JSON(http.StatusOK, sanitize(dest))
}

// SaveDestination creates or updates a destination
// PUT /api/v1/destinations/:id
func (h *DestinationHandler) SaveDestination(c *gin.Context) {
	var req struct {
		Name        string            `json:"name" binding:"required"`
		Type        string            `json:"type" binding:"required,oneof=local sftp ftp s3"`
		Enabled     bool              `json:"enabled"`
		Path        string            `json:"path" binding:"required"`
		Credentials map[string]string `json:"credentials"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dest := &destination.Destination{
		ID:          c.Param("id"),
		Name:        req.Name,
		Type:        req.Type,
		Enabled:     req.Enabled,
		Path:        req.Path,
		Credentials: req.Credentials,
	}

	// An update without credentials keeps the stored ones
	if len(dest.Credentials) == 0 {
		if existing, err := h.store.Get(dest.ID); err == nil {
			dest.Credentials = existing.Credentials
			dest.CreatedAt = existing.CreatedAt
		}
	}

	if err := h.store.Save(dest); err != nil {
		log.Printf("[API] Failed to save destination: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save destination"})
		return
	}

	c.JSON(http.StatusOK, sanitize(dest))
}

// DeleteDestination removes a destination
// DELETE /api/v1/destinations/:id
func (h *DestinationHandler) DeleteDestination(c *gin.Context) {
	err := h.store.Delete(c.Param("id"))
	if errors.Is(err, destination.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Destination not found"})
		return
	}
	if err != nil {
		log.Printf("[API] Failed to delete destination: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete destination"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
