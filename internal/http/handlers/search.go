package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/planforge-backend/internal/http/middleware"
	"github.com/yungbote/planforge-backend/internal/http/response"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
	"github.com/yungbote/planforge-backend/internal/rag/retriever"
)

const (
	searchDefaultTopK = 5
	searchMaxTopK     = 20
)

type SearchHandler struct {
	log       *logger.Logger
	retriever retriever.Retriever
}

func NewSearchHandler(log *logger.Logger, r retriever.Retriever) *SearchHandler {
	return &SearchHandler{
		log:       log.With("handler", "SearchHandler"),
		retriever: r,
	}
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Search runs a similarity query over the caller's indexed documents and
// returns the hits directly, without involving any agent.
func (h *SearchHandler) Search(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("user not resolved"))
		return
	}
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_query", fmt.Errorf("query is required"))
		return
	}
	if req.TopK <= 0 {
		req.TopK = searchDefaultTopK
	}
	if req.TopK > searchMaxTopK {
		req.TopK = searchMaxTopK
	}

	results, err := h.retriever.Search(c.Request.Context(), req.Query, req.TopK, userID.String())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "search_failed", err)
		return
	}
	if results == nil {
		results = []retriever.Result{}
	}
	response.RespondOK(c, gin.H{
		"query":         req.Query,
		"results":       results,
		"total_results": len(results),
	})
}
