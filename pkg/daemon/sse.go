package daemon

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fibercal/fibercal/pkg/caldata"
	"github.com/fibercal/fibercal/pkg/calibration"
	"github.com/fibercal/fibercal/pkg/events"
	"github.com/fibercal/fibercal/pkg/system"
	"github.com/fibercal/fibercal/pkg/types"
)

const sseKeepaliveInterval = 30 * time.Second

// bridgeEvents forwards bus events onto the SSE hub. The bus delivers
// synchronously on the publishing goroutine, so the handler only marshals
// and hands off; the hub's sends are non-blocking.
func bridgeEvents(bus *events.Bus, hub *events.Hub) {
	bus.Subscribe(func(e events.Event) {
		switch ev := e.(type) {
		case system.PropertiesChanged:
			hub.PublishMessage(e.Name(), types.PropertyChangedPayload{Property: ev.Property})
		case system.SafeModeEntered:
			hub.PublishMessage(e.Name(), nil)
		case caldata.Changed:
			hub.PublishMessage(e.Name(), types.DataChangedPayload{Measurements: ev.Data.Len()})
		case calibration.CalibrationStarted:
			hub.PublishMessage(e.Name(), types.CalibrationStartedPayload{Currents: ev.Manager.Currents()})
		case calibration.CalibrationOver:
			hub.PublishMessage(e.Name(), types.CalibrationOverPayload{
				Status:         ev.Status.String(),
				UsedCurrents:   ev.UsedCurrents,
				UnusedCurrents: ev.UnusedCurrents,
			})
		case calibration.TemperatureRequested:
			hub.PublishMessage(e.Name(), types.TemperatureRequestedPayload{
				HeatingStageIndex: ev.Manager.HeatingStageIndex(),
			})
		case calibration.TemperatureRequestOver:
			hub.PublishMessage(e.Name(), nil)
		}
	})
}

// streamEvents serves GET /events as a server-sent event stream. The
// connection stays open until the client goes away; a comment line keeps
// proxies from timing the stream out.
func streamEvents(c *gin.Context) {
	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", msg.Name, msg.Data)
			c.Writer.Flush()
		case <-keepalive.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
		}
	}
}
