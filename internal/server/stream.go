package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zulandar/switchboard/internal/compliance"
	"github.com/zulandar/switchboard/internal/logger"
	"github.com/zulandar/switchboard/internal/streamtoken"
)

const streamReadLimit = 64 << 10

// streamFrame is the part of a carrier media stream message we read. Media
// payloads are consumed by the assistant leg and ignored here.
type streamFrame struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Start     *struct {
		CallSid          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	DTMF *struct {
		Digit string `json:"digit"`
	} `json:"dtmf,omitempty"`
}

// handleStream accepts the carrier's media stream. The stream token may come
// in the URL or in the start frame's parameters; either way it must be bound
// to the call the start frame names.
func (s *Server) handleStream(c *gin.Context) {
	queryToken := c.Query("token")
	if queryToken != "" {
		if res := s.keyring.Verify(queryToken); !res.OK {
			s.rejectToken(c.ClientIP(), "", res.Reason)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": string(res.Reason)})
			return
		}
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(streamReadLimit)

	callID, ok := s.streamHandshake(conn, queryToken, c.ClientIP())
	if !ok {
		return
	}
	log := s.log.WithCall(callID)
	log.Info("media stream started")
	_ = conn.SetReadDeadline(time.Time{})

	ctx := c.Request.Context()
	for {
		var f streamFrame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("media stream read ended", logger.Error(err))
			}
			return
		}
		switch f.Event {
		case "dtmf":
			if f.DTMF != nil && f.DTMF.Digit == "0" {
				if err := s.rec.RequestHandoff(ctx, callID, compliance.EscalateHumanRequested); err != nil {
					log.Warn("handoff from stream failed", logger.Error(err))
				}
			}
		case "stop":
			log.Info("media stream stopped")
			closeStream(conn, websocket.CloseNormalClosure, "")
			return
		}
	}
}

// streamHandshake reads frames until start and authenticates it.
func (s *Server) streamHandshake(conn *websocket.Conn, queryToken, clientIP string) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	for {
		var f streamFrame
		if err := conn.ReadJSON(&f); err != nil {
			s.log.Debug("media stream handshake failed", logger.Error(err))
			return "", false
		}
		if f.Event != "start" {
			continue
		}
		if f.Start == nil {
			closeStream(conn, websocket.ClosePolicyViolation, "start frame without call")
			return "", false
		}
		tok := queryToken
		if tok == "" {
			tok = f.Start.CustomParameters["token"]
		}
		res := s.keyring.VerifyFor(tok, f.Start.CallSid)
		if !res.OK {
			s.rejectToken(clientIP, f.Start.CallSid, res.Reason)
			closeStream(conn, websocket.ClosePolicyViolation, string(res.Reason))
			return "", false
		}
		return res.CallID, true
	}
}

func (s *Server) rejectToken(clientIP, callID string, reason streamtoken.Reason) {
	s.log.Security("stream token rejected",
		logger.String("reason", string(reason)),
		logger.String("call_id", callID),
		logger.String("client_ip", clientIP))
}

func closeStream(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}
