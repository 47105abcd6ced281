package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nova-run/novad/internal/history"
	"github.com/nova-run/novad/internal/plugin"
	"github.com/nova-run/novad/pkg/types"
)

// requestTimeout is the server-side deadline applied to in-flight
// JSON-RPC requests; they are not otherwise cancellable.
const requestTimeout = 30 * time.Second

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// dispatch routes one decoded JSON-RPC request to its handler. C6
// (history) methods block on filesystem I/O; they run on a fresh
// goroutine and reply asynchronously so the read loop keeps pumping.
func (c *conn) dispatch(req *Request) *Response {
	switch req.Method {
	case "plugin.list":
		return c.handlePluginList(req)
	case "agent.list":
		return c.handleAgentList(req)
	case "agent.invoke":
		return c.handleAgentInvoke(req)
	case "session.message":
		return c.handleSessionMessage(req)
	case "session.stop":
		return c.handleSessionStop(req)
	case "session.prompt.respond":
		return c.handleSessionPromptRespond(req)
	case "session.list":
		return c.handleSessionList(req)
	case "session.get":
		return c.handleSessionGet(req)
	case "session.subscribe":
		return c.handleSubscribe(req)
	case "session.unsubscribe":
		return c.handleUnsubscribe(req)
	case "project.list":
		go c.handleProjectList(req)
		return nil
	case "project.sessions":
		go c.handleProjectSessions(req)
		return nil
	case "session.history":
		go c.handleSessionHistory(req)
		return nil
	case "session.delete":
		go c.handleSessionDelete(req)
		return nil
	case "session.deleteBulk":
		go c.handleSessionDeleteBulk(req)
		return nil
	case "system.homeDirectory":
		return resultResponse(req.ID, map[string]any{"home_directory": c.srv.homeDirectory()})
	default:
		return errResponse(req.ID, codeMethodNotFound, "Method not found: "+req.Method)
	}
}

func mapRegistryErr(req *Request, err error) *Response {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, plugin.ErrPluginNotFound):
		return errResponse(req.ID, codePluginNotFound, err.Error())
	case errors.Is(err, plugin.ErrAgentNotFound), errors.Is(err, plugin.ErrAgentDisabled):
		return errResponse(req.ID, codeAgentNotFound, err.Error())
	case errors.Is(err, plugin.ErrSessionNotFound):
		return errResponse(req.ID, codeSessionNotFound, err.Error())
	default:
		return errResponse(req.ID, codeInternalError, err.Error())
	}
}

func (c *conn) handlePluginList(req *Request) *Response {
	manifests := c.srv.registry.Plugins()
	plugins := make([]map[string]any, 0, len(manifests))
	for _, m := range manifests {
		agents := make([]map[string]any, 0, len(m.Agents))
		for _, a := range m.Agents {
			agents = append(agents, map[string]any{
				"id":           a.ID,
				"name":         a.Name,
				"capabilities": a.Capabilities,
			})
		}
		plugins = append(plugins, map[string]any{
			"name":     m.Name,
			"type":     m.Type,
			"source":   m.Source,
			"supports": m.Capabilities,
			"agents":   agents,
		})
	}
	return resultResponse(req.ID, map[string]any{"plugins": plugins})
}

func (c *conn) handleAgentList(req *Request) *Response {
	return resultResponse(req.ID, map[string]any{"agents": c.srv.registry.Agents()})
}

type invokeParams struct {
	Plugin string             `json:"plugin"`
	Agent  string             `json:"agent"`
	types.InvokeOptions
}

func (c *conn) handleAgentInvoke(req *Request) *Response {
	var p invokeParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error())
	}
	if p.Plugin == "" || p.Agent == "" {
		return errResponse(req.ID, codeInvalidParams, "plugin and agent are required")
	}

	ctx, cancel := requestContext()
	defer cancel()

	sess, err := c.srv.registry.Invoke(ctx, p.Plugin, p.Agent, p.InvokeOptions)
	if err != nil {
		return mapRegistryErr(req, err)
	}

	// Auto-subscribe synchronously, before the reply is written, so the
	// client never misses an event for its own invoke.
	c.subscribe(sess.ID)

	return resultResponse(req.ID, map[string]any{
		"session_id":          sess.ID,
		"upstream_session_id": sess.UpstreamSessionID,
		"status":              sess.Status,
		"agent_id":            sess.AgentID,
		"plugin_id":           sess.PluginID,
	})
}

type sessionIDParams struct {
	SessionID string `json:"session_id"`
}

func (c *conn) handleSessionMessage(req *Request) *Response {
	var p struct {
		sessionIDParams
		Text string `json:"text"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error())
	}
	ctx, cancel := requestContext()
	defer cancel()

	ok, errMsg := c.srv.registry.Message(ctx, p.SessionID, p.Text)
	return resultResponse(req.ID, map[string]any{"success": ok, "error": errMsg})
}

func (c *conn) handleSessionStop(req *Request) *Response {
	var p sessionIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error())
	}

	ctx, cancel := requestContext()
	defer cancel()

	if err := c.srv.registry.Stop(ctx, p.SessionID); err != nil {
		return mapRegistryErr(req, err)
	}
	return resultResponse(req.ID, map[string]any{"success": true})
}

func (c *conn) handleSessionPromptRespond(req *Request) *Response {
	var p struct {
		sessionIDParams
		PromptID string `json:"prompt_id"`
		Key      string `json:"key"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error())
	}

	ctx, cancel := requestContext()
	defer cancel()

	if err := c.srv.registry.Respond(ctx, p.SessionID, p.PromptID, p.Key); err != nil {
		return mapRegistryErr(req, err)
	}
	return resultResponse(req.ID, map[string]any{"success": true})
}

func (c *conn) handleSessionList(req *Request) *Response {
	return resultResponse(req.ID, map[string]any{"sessions": c.srv.registry.GetSessions()})
}

func (c *conn) handleSessionGet(req *Request) *Response {
	var p sessionIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error())
	}
	sess, ok := c.srv.registry.GetSession(p.SessionID)
	if !ok {
		return errResponse(req.ID, codeSessionNotFound, "session not found: "+p.SessionID)
	}
	return resultResponse(req.ID, sess)
}

func (c *conn) handleSubscribe(req *Request) *Response {
	var p sessionIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error())
	}
	if !c.subscribe(p.SessionID) {
		return errResponse(req.ID, codeSessionNotFound, "session not found: "+p.SessionID)
	}
	return resultResponse(req.ID, map[string]any{"subscribed": true, "session_id": p.SessionID})
}

func (c *conn) handleUnsubscribe(req *Request) *Response {
	var p sessionIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error())
	}
	c.unsubscribe(p.SessionID)
	return resultResponse(req.ID, map[string]any{"unsubscribed": true, "session_id": p.SessionID})
}

// handleProjectList and the handlers below run on their own goroutine;
// each sends its own response when the blocking work completes.

func (c *conn) handleProjectList(req *Request) {
	projects, err := c.srv.history.ListProjects()
	if err != nil {
		c.send(errResponse(req.ID, codeInternalError, err.Error()))
		return
	}
	c.send(resultResponse(req.ID, map[string]any{"projects": projects}))
}

type projectIDParams struct {
	ProjectID string `json:"project_id"`
}

func (c *conn) handleProjectSessions(req *Request) {
	var p projectIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.send(errResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error()))
		return
	}
	sessions, err := c.srv.history.ProjectSessions(p.ProjectID)
	if err != nil {
		c.send(errResponse(req.ID, codeInternalError, err.Error()))
		return
	}
	c.send(resultResponse(req.ID, map[string]any{"sessions": sessions}))
}

func (c *conn) handleSessionHistory(req *Request) {
	var p struct {
		projectIDParams
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.send(errResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error()))
		return
	}
	records, err := c.srv.history.LoadHistory(p.ProjectID, p.SessionID)
	if err == history.ErrNotFound {
		c.send(errResponse(req.ID, codeSessionNotFound, "history not found"))
		return
	}
	if err != nil {
		c.send(errResponse(req.ID, codeInternalError, err.Error()))
		return
	}
	c.send(resultResponse(req.ID, map[string]any{"records": records}))
}

func (c *conn) handleSessionDelete(req *Request) {
	var p struct {
		projectIDParams
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.send(errResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error()))
		return
	}
	if err := c.srv.history.Delete(p.ProjectID, p.SessionID); err != nil {
		c.send(errResponse(req.ID, codeInternalError, err.Error()))
		return
	}
	c.send(resultResponse(req.ID, map[string]any{"success": true}))
}

func (c *conn) handleSessionDeleteBulk(req *Request) {
	var p struct {
		projectIDParams
		SessionIDs []string `json:"session_ids"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.send(errResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error()))
		return
	}
	deleted, failed := c.srv.history.DeleteBulk(p.ProjectID, p.SessionIDs)
	c.send(resultResponse(req.ID, map[string]any{"deleted": deleted, "failed": failed}))
}
