package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/kis-data/internal/api"
	"github.com/rickgao/kis-data/internal/auth"
	"github.com/rickgao/kis-data/internal/connection"
	"github.com/rickgao/kis-data/internal/version"
)

const contentTypeJSON = "application/json; charset=utf-8"

func (s *Server) getPrice(c *gin.Context) {
	s.respond(c, func(ctx context.Context) (json.RawMessage, error) {
		return s.quotes.InquirePrice(ctx, c.Param("code"))
	})
}

func (s *Server) getHistory(c *gin.Context) {
	s.respond(c, func(ctx context.Context) (json.RawMessage, error) {
		return s.quotes.DailyChartPrice(ctx, c.Param("code"), c.Param("start"), c.Param("end"))
	})
}

func (s *Server) getETF(c *gin.Context) {
	s.respond(c, func(ctx context.Context) (json.RawMessage, error) {
		return s.quotes.ETFPrice(ctx, c.Param("code"))
	})
}

func (s *Server) getNews(c *gin.Context) {
	s.respond(c, func(ctx context.Context) (json.RawMessage, error) {
		return s.quotes.NewsTitles(ctx, c.Param("code"))
	})
}

func (s *Server) getFinance(c *gin.Context) {
	s.respond(c, func(ctx context.Context) (json.RawMessage, error) {
		return s.quotes.FinancialStatement(ctx, c.Param("code"), c.Param("data_type"))
	})
}

// respond runs one upstream call and writes its body verbatim.
func (s *Server) respond(c *gin.Context, call func(ctx context.Context) (json.RawMessage, error)) {
	body, err := call(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, contentTypeJSON, body)
}

// writeError maps a call failure to a status and JSON body:
//
//	unknown data type     400 {"error":"Invalid data_type"}
//	upstream non-2xx      502 {"error":"HTTP <n>","message":...,"upstream_status":<n>}
//	upstream bad body     502 {"error":"Invalid upstream response",...}
//	upstream unreachable  502 {"error":"Upstream unavailable",...}
//	token unavailable     503 {"error":"Token unavailable",...}
//	deadline exceeded     504 {"error":"Upstream timeout"}
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		apiErr  *api.APIError
		authErr *auth.AuthError
	)

	switch {
	case errors.Is(err, api.ErrUnknownDataType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data_type"})
		return

	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Upstream timeout"})
		return

	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the body.
		c.Status(499)
		return

	case errors.As(err, &authErr):
		s.logger.Error("token unavailable", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Token unavailable",
			"message": authErr.Error(),
		})
		return

	case errors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == 0:
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "Upstream unavailable",
				"message": apiErr.Error(),
			})
		case apiErr.StatusCode >= 200 && apiErr.StatusCode < 300:
			c.JSON(http.StatusBadGateway, gin.H{
				"error":           "Invalid upstream response",
				"message":         apiErr.Message,
				"upstream_status": apiErr.StatusCode,
			})
		default:
			c.JSON(http.StatusBadGateway, gin.H{
				"error":           fmt.Sprintf("HTTP %d", apiErr.StatusCode),
				"message":         apiErr.Message,
				"upstream_status": apiErr.StatusCode,
			})
		}
		return

	}

	s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
}

type tokenHealth struct {
	Held      bool      `json:"held"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Expired   bool      `json:"expired"`
}

type streamHealth struct {
	State       string    `json:"state"`
	Attempts    int64     `json:"attempts"`
	Subscribed  int64     `json:"subscribed"`
	Ticks       int64     `json:"ticks"`
	DataErrors  int64     `json:"data_errors"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitzero"`
}

type health struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Token   *tokenHealth  `json:"token,omitempty"`
	Stream  *streamHealth `json:"stream,omitempty"`
}

// getHealth always answers 200; the body says what is degraded.
func (s *Server) getHealth(c *gin.Context) {
	h := health{Status: "ok", Version: version.String()}

	if s.tokens != nil {
		tok, ok := s.tokens.Current()
		th := &tokenHealth{Held: ok}
		if ok {
			th.ExpiresAt = tok.ExpiresAt
			th.Expired = tok.Expired(s.now())
		}
		h.Token = th
	}

	if s.stream != nil {
		st := s.stream.Stats()
		h.Stream = &streamHealth{
			State:       st.State.String(),
			Attempts:    st.Attempts,
			Subscribed:  st.Subscribed,
			Ticks:       st.Ticks,
			DataErrors:  st.DataErrors,
			LastError:   st.LastError,
			LastErrorAt: st.LastErrorAt,
		}
		if st.State != connection.StateSubscribed {
			h.Status = "degraded"
		}
	}

	c.JSON(http.StatusOK, h)
}
