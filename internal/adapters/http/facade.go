package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Enty2905/AegisTalk-sub000/internal/calls"
	"github.com/Enty2905/AegisTalk-sub000/internal/domain"
)

// facade exposes the call session registry over JSON. Refusals by the
// registry are reported as {"ok": false} with status 200; only requests that
// cannot be understood get a 4xx.
type facade struct {
	calls *calls.Registry
}

type inviteRequest struct {
	CallerID domain.UserID `json:"callerId"`
	CalleeID domain.UserID `json:"calleeId"`
}

type userRequest struct {
	UserID domain.UserID `json:"userId"`
}

type endpointRequest struct {
	UserID  domain.UserID `json:"userId"`
	Address string        `json:"address"`
	Port    int           `json:"port"`
}

func callParam(c *gin.Context) (domain.CallID, bool) {
	n, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil || n <= 0 {
		return 0, false
	}
	return domain.CallID(n), true
}

func userParam(c *gin.Context) (domain.UserID, bool) {
	id, err := domain.ParseUserID(c.Param("id"))
	return id, err == nil
}

func roomParam(c *gin.Context) domain.RoomName {
	return domain.RoomName(c.Param("name"))
}

func badRequest(c *gin.Context, body any) {
	c.JSON(http.StatusBadRequest, body)
}

func (f *facade) invite(c *gin.Context) {
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, gin.H{"sessionId": nil})
		return
	}
	id, err := f.calls.Invite(req.CallerID, req.CalleeID)
	if err != nil {
		log.Debug().Err(err).Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).Msg("invite refused")
		badRequest(c, gin.H{"sessionId": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": id})
}

// transition runs one of the user-scoped state changes.
func (f *facade) transition(c *gin.Context, op func(domain.CallID, domain.UserID) bool) {
	id, ok := callParam(c)
	if !ok {
		badRequest(c, gin.H{"ok": false})
		return
	}
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.UserID.Valid() {
		badRequest(c, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": op(id, req.UserID)})
}

func (f *facade) accept(c *gin.Context) { f.transition(c, f.calls.Accept) }
func (f *facade) reject(c *gin.Context) { f.transition(c, f.calls.Reject) }
func (f *facade) end(c *gin.Context)    { f.transition(c, f.calls.End) }

func (f *facade) registerEndpoint(c *gin.Context) {
	id, ok := callParam(c)
	if !ok {
		badRequest(c, gin.H{"ok": false})
		return
	}
	var req endpointRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.UserID.Valid() {
		badRequest(c, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": f.calls.RegisterEndpoint(id, req.UserID, req.Address, req.Port)})
}

func (f *facade) callInfo(c *gin.Context) {
	id, ok := callParam(c)
	if !ok {
		badRequest(c, nil)
		return
	}
	info, ok := f.calls.CallInfo(id)
	if !ok {
		c.JSON(http.StatusNotFound, nil)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (f *facade) pending(c *gin.Context) {
	user, ok := userParam(c)
	if !ok {
		badRequest(c, nil)
		return
	}
	c.JSON(http.StatusOK, f.calls.PendingCalls(user))
}

func (f *facade) active(c *gin.Context) {
	user, ok := userParam(c)
	if !ok {
		badRequest(c, nil)
		return
	}
	c.JSON(http.StatusOK, f.calls.ActiveCalls(user))
}
