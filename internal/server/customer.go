package server

import (
	"github.com/gin-gonic/gin"
)

// @Summary      Delete Customer
// @Description  Soft-delete a customer and drop its entitlements and usage counters
// @Tags         customer
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id   path      string  true  "Customer ID"
// @Success      200  {object}  map[string]string
// @Router       /customer/{id}/delete [delete]
func (s *Server) DeleteCustomer(c *gin.Context) {
	if err := s.customersvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, gin.H{"status": "deleted"})
}
