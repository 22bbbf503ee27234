package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/switchyard/internal/handoff"
	"github.com/zulandar/switchyard/internal/models"
)

func handleGetRules(opts *ServerOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, opts.Policy.Rules())
	}
}

// handlePutRules installs a new rules document, persisting it when a rule
// file is configured.
func handlePutRules(opts *ServerOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			fail(c, http.StatusBadRequest, "unreadable body")
			return
		}
		var installed handoff.Rules
		if opts.RuleFile != nil {
			installed, err = opts.RuleFile.Update(data)
		} else {
			var r handoff.Rules
			if r, err = handoff.ParseRules(data); err == nil {
				installed = opts.Policy.Swap(r)
			}
		}
		if err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		c.JSON(http.StatusOK, installed)
	}
}

type caseView struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenantId"`
	Contact         string     `json:"contact"`
	ConversationRef string     `json:"conversationRef,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	Status          string     `json:"status"`
	AssignedTo      string     `json:"assignedTo,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
}

func toCaseView(c *models.HandoffCase) caseView {
	return caseView{
		ID:              c.ID,
		TenantID:        c.TenantID,
		Contact:         c.ContactAddress,
		ConversationRef: c.ConversationRef,
		Summary:         c.Summary,
		Status:          c.Status,
		AssignedTo:      c.AssignedTo,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		ResolvedAt:      c.ResolvedAt,
	}
}

func handleListCases(opts *ServerOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		cases, err := opts.Cases.List(c.Request.Context(), handoff.CaseFilter{
			TenantID: c.Query("tenant"),
			Status:   c.Query("status"),
			Contact:  c.Query("contact"),
			Limit:    limit,
		})
		if err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		views := make([]caseView, 0, len(cases))
		for i := range cases {
			views = append(views, toCaseView(&cases[i]))
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "cases": views})
	}
}

func handleAssignCase(opts *ServerOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Assignee string `json:"assignee" form:"assignee"`
		}
		if err := c.ShouldBind(&req); err != nil || req.Assignee == "" {
			fail(c, http.StatusBadRequest, "assignee is required")
			return
		}
		hc, err := opts.Cases.Assign(c.Request.Context(), c.Param("id"), req.Assignee)
		respondCase(c, hc, err)
	}
}

func handleResolveCase(opts *ServerOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		hc, err := opts.Cases.Resolve(c.Request.Context(), c.Param("id"))
		respondCase(c, hc, err)
	}
}

func respondCase(c *gin.Context, hc *models.HandoffCase, err error) {
	switch {
	case errors.Is(err, handoff.ErrCaseNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, handoff.ErrInvalidTransition):
		fail(c, http.StatusConflict, err.Error())
	case err != nil:
		fail(c, http.StatusInternalServerError, err.Error())
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "case": toCaseView(hc)})
	}
}
