package rest

import (
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"github.com/gin-gonic/gin"
)

var errMissingValue = errors.New("value is required")

// respondError answers with the status mapped from err and an
// AREA_STATUS error code.
func respondError(c *gin.Context, area, message string, err error) {
	status := types.HTTPStatus(err)
	c.JSON(status, types.NewErrorResponse(fmt.Sprintf("%s_%d", area, status), message, err.Error()))
}

func badRequest(c *gin.Context, area, message string, err error) {
	c.JSON(400, types.NewErrorResponse(area+"_400", message, err.Error()))
}
