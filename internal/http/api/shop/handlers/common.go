package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// parseIDParam extracts a numeric path parameter.
func parseIDParam(c *gin.Context, name string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if errParse != nil || id == 0 {
		return 0, false
	}
	return id, true
}
