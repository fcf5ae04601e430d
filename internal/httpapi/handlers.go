package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kvmdash/internal/actionlog"
	"kvmdash/internal/eventbus"
	"kvmdash/internal/schedule"
	logx "kvmdash/pkg/logx"
)

// ---- action log ----

func (s *Server) listActions(c *gin.Context) {
	list, err := s.d.Actions.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": list})
}

func (s *Server) appendAction(c *gin.Context) {
	var e actionlog.Entry
	if err := c.ShouldBindJSON(&e); err != nil {
		fail(c, actionlog.ErrMissingFields)
		return
	}
	e.Timestamp = ""
	out, err := s.d.Actions.Append(c.Request.Context(), e)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "action": out})
}

func (s *Server) clearActions(c *gin.Context) {
	if err := s.d.Actions.Clear(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ---- preferences ----

func (s *Server) getPreferences(c *gin.Context) {
	prefs, err := s.d.Docs.Preferences(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (s *Server) updatePreferences(c *gin.Context) {
	patch, ok := bindObject(c)
	if !ok {
		return
	}
	prefs, err := s.d.Docs.UpdatePreferences(c.Request.Context(), patch)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "preferences": prefs})
}

// bindObject reads a non-empty JSON object body.
func bindObject(c *gin.Context) (map[string]any, bool) {
	var m map[string]any
	if err := c.ShouldBindJSON(&m); err != nil || len(m) == 0 {
		fail(c, errNoData)
		return nil, false
	}
	return m, true
}

// ---- schedules ----

func (s *Server) listSchedules(c *gin.Context) {
	list, err := s.d.Schedules.Load(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": list})
}

func (s *Server) addSchedule(c *gin.Context) {
	var d schedule.Draft
	if err := c.ShouldBindJSON(&d); err != nil {
		fail(c, schedule.ErrMissingFields)
		return
	}
	sc, err := d.Build(s.d.Clock.Now().UnixMilli(), s.d.Calc.Location())
	if err != nil {
		fail(c, err)
		return
	}
	sc, err = s.d.Schedules.Add(c.Request.Context(), sc)
	if err != nil {
		fail(c, err)
		return
	}
	s.log.Info("schedule added", logx.Int64("id", sc.ID), logx.String("pc", sc.PCName), logx.String("action", string(sc.Action)))
	s.schedulesChanged(sc.ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "schedule": sc})
}

func (s *Server) deleteSchedule(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	if err := s.d.Schedules.Delete(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	s.schedulesChanged(id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) addFollowUp(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	var d schedule.FollowUpDraft
	if err := c.ShouldBindJSON(&d); err != nil {
		fail(c, schedule.ErrMissingFields)
		return
	}
	f, err := d.Build()
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.d.Schedules.AddFollowUp(c.Request.Context(), id, f); err != nil {
		fail(c, err)
		return
	}
	s.schedulesChanged(id)
	c.JSON(http.StatusOK, gin.H{"success": true, "followup": f})
}

func (s *Server) deleteFollowUp(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	idx, ok := pathInt(c, "index")
	if !ok {
		return
	}
	if err := s.d.Schedules.DeleteFollowUp(c.Request.Context(), id, int(idx)); err != nil {
		fail(c, err)
		return
	}
	s.schedulesChanged(id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// nextRun is one row of GET /schedules/next.
type nextRun struct {
	ID     int64  `json:"id"`
	PCName string `json:"pcName"`
	Action string `json:"action"`
	Next   int64  `json:"next,omitempty"`
	NextAt string `json:"nextAt,omitempty"`
	Error  string `json:"error,omitempty"`
}

// nextRuns previews the next firing of every stored schedule.
func (s *Server) nextRuns(c *gin.Context) {
	list, err := s.d.Schedules.Load(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	now := s.d.Clock.Now()
	out := make([]nextRun, 0, len(list))
	for _, sc := range list {
		row := nextRun{ID: sc.ID, PCName: sc.PCName, Action: schedule.Describe(sc.Action, sc.Shortcut())}
		if t, err := s.d.Calc.Next(sc, now); err != nil {
			row.Error = err.Error()
		} else {
			row.Next = t.UnixMilli()
			row.NextAt = t.In(s.d.Calc.Location()).Format("2006-01-02T15:04:05Z07:00")
		}
		out = append(out, row)
	}
	c.JSON(http.StatusOK, gin.H{"schedules": out})
}

func (s *Server) schedulesChanged(id int64) {
	s.d.Bus.Publish(eventbus.Event{Type: eventbus.SchedulesChanged, Time: s.d.Clock.Now(), Data: id})
}

// pathInt parses a non-negative integer path parameter. Anything else is a
// 404, as the route does not match.
func pathInt(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v < 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "Not found"})
		return 0, false
	}
	return v, true
}

// ---- dashboard config ----

func (s *Server) getConfig(c *gin.Context) {
	cfg, err := s.d.Docs.Config(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// saveConfig deep-merges the body and then sweeps icons the new config no
// longer references. A failed sweep does not fail the save.
func (s *Server) saveConfig(c *gin.Context) {
	patch, ok := bindObject(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	cfg, err := s.d.Docs.SaveConfig(ctx, patch)
	if err != nil {
		fail(c, err)
		return
	}
	if s.d.Icons != nil {
		if _, err := s.d.Icons.Cleanup(ctx, cfg); err != nil {
			s.log.Warn("icon cleanup after config save failed", logx.Err(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "config": cfg})
}

func (s *Server) resetConfig(c *gin.Context) {
	cfg, err := s.d.Docs.ResetConfig(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "config": cfg})
}

// ---- icons ----

func (s *Server) uploadIcon(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "No file provided")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, err)
		return
	}
	defer f.Close()

	up, err := s.d.Icons.Upload(c.Request.Context(), fh.Filename, f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "filename": up.Filename, "path": up.Path})
}

func (s *Server) cleanupIcons(c *gin.Context) {
	ctx := c.Request.Context()
	cfg, err := s.d.Docs.Config(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := s.d.Icons.Cleanup(ctx, cfg)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": res.Deleted, "message": res.Message})
}

// ---- uptime ----

func (s *Server) getUptime(c *gin.Context) {
	snap, err := s.d.Uptime.Refresh(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
