package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/zulandar/switchyard/internal/indexer"
	"github.com/zulandar/switchyard/internal/knowledge"
	"github.com/zulandar/switchyard/internal/models"
)

type indexRequest struct {
	URL      string   `json:"url" form:"url"`
	Type     string   `json:"type" form:"type"` // website (default) or document
	Tenant   string   `json:"tenant" form:"tenant"`
	Title    string   `json:"title" form:"title"`
	Category string   `json:"category" form:"category"`
	Tags     []string `json:"tags" form:"tags"`
}

// handleIndex indexes an uploaded file or a URL.
func handleIndex(opts *ServerOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req indexRequest
		if err := c.ShouldBind(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		meta := indexer.Meta{
			TenantID: firstNonEmpty(req.Tenant, opts.DefaultTenant),
			Title:    strings.TrimSpace(req.Title),
			Category: strings.TrimSpace(req.Category),
			Tags:     splitTags(req.Tags),
		}

		var (
			res indexer.Result
			err error
		)
		if fh, ferr := c.FormFile("file"); ferr == nil {
			f, oerr := fh.Open()
			if oerr != nil {
				fail(c, http.StatusBadRequest, "unreadable file")
				return
			}
			data, rerr := io.ReadAll(io.LimitReader(f, maxFileBytes))
			f.Close()
			if rerr != nil {
				fail(c, http.StatusBadRequest, "unreadable file")
				return
			}
			contentType := fh.Header.Get("Content-Type")
			if contentType == "application/octet-stream" {
				// Let the indexer go by extension.
				contentType = ""
			}
			res, err = opts.Indexer.IndexDocument(c.Request.Context(), fh.Filename, contentType, data, meta)
		} else {
			locator := strings.TrimSpace(req.URL)
			if !isHTTPURL(locator) {
				fail(c, http.StatusBadRequest, "file or http(s) url is required")
				return
			}
			sourceType := req.Type
			if sourceType == "" {
				sourceType = models.SourceWebsite
			}
			if sourceType != models.SourceWebsite && sourceType != models.SourceDocument {
				fail(c, http.StatusBadRequest, "type must be website or document")
				return
			}
			res, err = opts.Indexer.Index(c.Request.Context(), locator, sourceType, meta)
		}

		switch {
		case errors.Is(err, indexer.ErrNoContent):
			fail(c, http.StatusUnprocessableEntity, err.Error())
			return
		case err != nil:
			log.Error().Err(err).Msg("api: index")
			fail(c, http.StatusBadGateway, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "sourceId": res.SourceID, "chunkCount": res.ChunkCount})
	}
}

// handleSearch previews retrieval for a query.
func handleSearch(opts *ServerOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := strings.TrimSpace(c.Query("q"))
		if q == "" {
			fail(c, http.StatusBadRequest, "q is required")
			return
		}
		k := opts.TopK
		if s := c.Query("k"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				fail(c, http.StatusBadRequest, "k must be a positive integer")
				return
			}
			k = n
		}
		filter := knowledge.Filter{
			TenantID: firstNonEmpty(c.Query("tenant"), opts.DefaultTenant),
			Category: c.Query("category"),
		}
		results := opts.Retriever.Retrieve(c.Request.Context(), q, k, filter)
		if results == nil {
			results = []knowledge.Result{}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
	}
}

// splitTags accepts repeated tags fields and comma-separated lists.
func splitTags(in []string) []string {
	var out []string
	for _, v := range in {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
