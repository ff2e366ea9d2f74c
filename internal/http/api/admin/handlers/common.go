package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// getAdminID extracts the authenticated admin ID from gin context.
func getAdminID(c *gin.Context) uint64 {
	val, exists := c.Get("adminID")
	if !exists {
		return 0
	}
	id, ok := val.(uint64)
	if !ok {
		return 0
	}
	return id
}

// parseIDParam parses the :id path parameter.
func parseIDParam(c *gin.Context) (uint64, bool) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		return 0, false
	}
	return id, true
}
