package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	ledgerdomain "github.com/smallbiznis/tably/internal/ledger/domain"
)

func (s *Server) GetReceiptLedger(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	entries, err := s.ledgerSvc.ListByReceipt(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) SettleLedgerEntry(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req ledgerdomain.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.EntryID = id

	entry, err := s.ledgerSvc.Settle(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

func (s *Server) GetUserBalance(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	balance, err := s.balanceSvc.BalanceFor(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balance})
}
