package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/meterwise/meterwise/internal/entitlement/domain"
)

// @Summary      Feature Guard
// @Description  Decide whether the customer may use the feature right now
// @Tags         entitlement
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request body entitlementdomain.CanRequest true "Can Request"
// @Success      200  {object}  entitlementdomain.Verdict
// @Router       /customer/can [post]
func (s *Server) Can(c *gin.Context) {
	var req entitlementdomain.CanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, err)
		return
	}
	if strings.TrimSpace(req.FeatureSlug) == "" {
		AbortWithError(c, newValidationError("featureSlug", "invalid_feature", "featureSlug is required"))
		return
	}

	verdict, err := s.entitlementsvc.Can(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, verdict)
}

// @Summary      Get Entitlements
// @Description  List the entitlement state for every feature on the customer's active plan
// @Tags         entitlement
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id   path      string  true  "Customer ID"
// @Success      200  {object}  map[string][]entitlementdomain.Entitlement
// @Router       /customer/{id}/getEntitlements [get]
func (s *Server) GetEntitlements(c *gin.Context) {
	entitlements, err := s.entitlementsvc.GetEntitlements(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, entitlements)
}

type revalidateRequest struct {
	FeatureSlug string `json:"featureSlug"`
}

// @Summary      Revalidate Entitlement
// @Description  Drop the cached entitlement and recompute it from persisted state
// @Tags         entitlement
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id       path   string             true  "Customer ID"
// @Param        request  body   revalidateRequest  true  "Revalidate Request"
// @Success      200  {object}  map[string]string
// @Router       /customer/{id}/revalidateEntitlement [post]
func (s *Server) RevalidateEntitlement(c *gin.Context) {
	var req revalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("featureSlug", "invalid_feature", "request body must carry featureSlug"))
		return
	}
	if strings.TrimSpace(req.FeatureSlug) == "" {
		AbortWithError(c, newValidationError("featureSlug", "invalid_feature", "featureSlug is required"))
		return
	}

	if err := s.entitlementsvc.Revalidate(c.Request.Context(), c.Param("id"), req.FeatureSlug); err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, gin.H{"status": "revalidated"})
}

// @Summary      Reset Entitlements
// @Description  Zero running usage for every feature on the customer's active plan
// @Tags         entitlement
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id   path      string  true  "Customer ID"
// @Success      200  {object}  map[string]string
// @Router       /customer/{id}/reset-entitlements [post]
func (s *Server) ResetEntitlements(c *gin.Context) {
	if err := s.entitlementsvc.Reset(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, gin.H{"status": "reset"})
}
