package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gyandhara/gyandhara-api/internal/modules/serializer"
	"github.com/gyandhara/gyandhara-api/internal/modules/service"
)

// respondErr maps service errors to status codes. Anything that is neither a
// validation nor a lookup failure came from storage or GitHub and is reported
// with its message after prefix.
func respondErr(c *gin.Context, prefix string, err error) {
	switch {
	case service.IsValidation(err):
		c.JSON(http.StatusBadRequest, serializer.ParamErr(err.Error(), err))
	case service.IsNotFound(err):
		c.JSON(http.StatusNotFound, serializer.NotFoundErr(err.Error(), err))
	default:
		c.JSON(http.StatusInternalServerError, serializer.UpstreamErr(prefix, err))
	}
}
