package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/meterwise/meterwise/internal/usage/domain"
)

// @Summary      Report Usage
// @Description  Apply a usage delta, exactly once per idempotence key
// @Tags         usage
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request body usagedomain.ReportRequest true "Report Usage Request"
// @Success      200  {object}  usagedomain.ReportResponse
// @Router       /customer/report-usage [post]
func (s *Server) ReportUsage(c *gin.Context) {
	var req usagedomain.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.usagesvc.Report(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary      Get Usage
// @Description  Get running usage totals per feature for a customer
// @Tags         usage
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id   path      string  true  "Customer ID"
// @Success      200  {object}  map[string]float64
// @Router       /customer/{id}/getUsage [get]
func (s *Server) GetUsage(c *gin.Context) {
	// Resolve under the caller's project; totals for customers of other
	// projects are never readable with this key.
	customer, err := s.customersvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	totals, err := s.usagesvc.Totals(c.Request.Context(), customer.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, totals)
}
