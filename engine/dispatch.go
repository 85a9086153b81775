package engine

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/relaydev/relay/engine/eval"
	"github.com/relaydev/relay/engine/fault"
	"github.com/relaydev/relay/engine/httpexec"
	"github.com/relaydev/relay/engine/paths"
)

// dispatch executes one node and returns the output object stored under
// nodes[node_id].output.
func (e *Engine) dispatch(ctx context.Context, rc *runContext, node *Node) (map[string]any, error) {
	switch node.Type {
	case "start", "auth", "parameters", "end":
		return map[string]any{"node_type": node.Type}, nil
	case "delay":
		return e.dispatchDelay(node)
	case "define_variable":
		return e.dispatchDefineVariable(rc, node)
	case "if":
		return e.dispatchIf(rc, node)
	case "for_each_parallel":
		return e.dispatchForEach(rc, node)
	case "join":
		return e.dispatchJoin(rc, node)
	case "start_request", "form_request":
		return e.dispatchRequest(ctx, rc, node)
	case "paginate_request":
		return e.dispatchPaginate(ctx, rc, node)
	case "python_request":
		return e.dispatchScriptRequest(rc, node)
	case "start_python":
		return e.dispatchScriptVars(rc, node)
	case "invoke_workflow":
		return e.dispatchInvoke(ctx, rc, node)
	case "save":
		return e.dispatchSave(ctx, rc, node)
	case "raise_error":
		return e.dispatchRaise(rc, node)
	default:
		return nil, fault.Errorf(fault.GraphInvalid, "unknown node_type %q", node.Type)
	}
}

func (e *Engine) dispatchDelay(node *Node) (map[string]any, error) {
	ms := configInt(node.Config, "ms", 0)
	if ms < 0 {
		ms = 0
	}
	e.sleep(time.Duration(ms) * time.Millisecond)
	return map[string]any{"slept_ms": ms}, nil
}

func (e *Engine) dispatchDefineVariable(rc *runContext, node *Node) (map[string]any, error) {
	name, _ := node.Config["name"].(string)
	if name == "" {
		return nil, fault.Errorf(fault.ValidationError, "define_variable node %s has no name", node.ID)
	}

	source, _ := node.Config["source"].(string)
	selector, _ := node.Config["selector"].(string)

	var value any
	switch source {
	case "last_response":
		base := rc.context.System[sysLastResponse]
		if selector == "" {
			value = base
		} else {
			value = paths.Resolve(base, selector)
		}
	case "node_output":
		value = paths.Resolve(rc.context.Nodes, selector)
	default:
		value = rc.context.ResolvePath(selector)
	}

	if value == nil {
		value = node.Config["defaultValue"]
	}

	rc.context.Vars[name] = value
	return map[string]any{"name": name, "value": value}, nil
}

func (e *Engine) dispatchIf(rc *runContext, node *Node) (map[string]any, error) {
	expression, _ := node.Config["expression"].(string)
	result, err := e.eval.EvalBool(expression, rc.context.TemplateRoot())
	if err != nil {
		return nil, err
	}
	return map[string]any{"expression": expression, "result": result}, nil
}

func (e *Engine) dispatchForEach(rc *runContext, node *Node) (map[string]any, error) {
	listExpr, _ := node.Config["listExpr"].(string)
	resolved, err := e.eval.Eval(listExpr, rc.context.TemplateRoot())
	if err != nil {
		return nil, err
	}

	var items []any
	switch v := resolved.(type) {
	case nil:
		items = []any{}
	case []any:
		items = v
	default:
		items = []any{v}
	}

	itemName, _ := node.Config["itemName"].(string)
	if itemName == "" {
		itemName = "item"
	}

	entry := map[string]any{
		"item_name": itemName,
		"items":     items,
		"count":     len(items),
	}
	parallel := rc.context.Parallel()
	parallel[node.ID] = entry
	rc.context.Vars[itemName+"_items"] = items

	return entry, nil
}

// dispatchJoin merges system.parallel entries deterministically: entries
// are visited in sorted fan-out node id order.
func (e *Engine) dispatchJoin(rc *runContext, node *Node) (map[string]any, error) {
	strategy, _ := node.Config["mergeStrategy"].(string)
	if strategy == "" {
		strategy = "collect_list"
	}

	parallel := rc.context.Parallel()
	ids := make([]string, 0, len(parallel))
	for id := range parallel {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var joined any
	switch strategy {
	case "collect_list":
		collected := []any{}
		for _, id := range ids {
			collected = append(collected, parallelItems(parallel, id)...)
		}
		joined = collected
	case "last_write_wins":
		for _, id := range ids {
			items := parallelItems(parallel, id)
			if len(items) > 0 {
				joined = items[len(items)-1]
			}
		}
	case "merge_objects":
		merged, err := mergeObjectItems(ids, parallel)
		if err != nil {
			return nil, err
		}
		joined = merged
	default:
		return nil, fault.Errorf(fault.ValidationError, "unknown mergeStrategy %q", strategy)
	}

	rc.context.Vars["joined"] = joined
	return map[string]any{"strategy": strategy, "joined": joined}, nil
}

// mergeObjectItems folds object items together as JSON merge patches, in
// deterministic order. Non-object items are skipped.
func mergeObjectItems(ids []string, parallel map[string]any) (map[string]any, error) {
	acc := []byte("{}")
	for _, id := range ids {
		for _, item := range parallelItems(parallel, id) {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			patch, err := json.Marshal(obj)
			if err != nil {
				return nil, fault.Errorf(fault.ExpressionError, "encode join item: %v", err)
			}
			acc, err = jsonpatch.MergePatch(acc, patch)
			if err != nil {
				return nil, fault.Errorf(fault.ExpressionError, "merge join item: %v", err)
			}
		}
	}

	var merged map[string]any
	if err := json.Unmarshal(acc, &merged); err != nil {
		return nil, fault.Errorf(fault.ExpressionError, "decode join result: %v", err)
	}
	return merged, nil
}

func parallelItems(parallel map[string]any, id string) []any {
	entry, _ := parallel[id].(map[string]any)
	if entry == nil {
		return nil
	}
	items, _ := entry["items"].([]any)
	return items
}

func (e *Engine) dispatchRequest(ctx context.Context, rc *runContext, node *Node) (map[string]any, error) {
	req, pol, err := e.buildRequest(rc, node)
	if err != nil {
		return nil, err
	}

	resp, err := e.http.Execute(ctx, node.ID, req, pol, rc.context.CircuitBreakers())
	if err != nil {
		e.metrics.UpstreamRequests.WithLabelValues("failure").Inc()
		return nil, err
	}
	e.metrics.UpstreamRequests.WithLabelValues("success").Inc()

	respMap := resp.ToMap()
	rc.context.SetLastResponse(node.ID, respMap)
	return respMap, nil
}

func (e *Engine) dispatchPaginate(ctx context.Context, rc *runContext, node *Node) (map[string]any, error) {
	req, pol, err := e.buildRequest(rc, node)
	if err != nil {
		return nil, err
	}

	strategy, _ := node.Config["strategy"].(string)
	spec := httpexec.PageSpec{
		Strategy:       strategy,
		ItemsPath:      configString(node.Config, "itemsPath"),
		NextCursorPath: configString(node.Config, "nextCursorPath"),
		HasMorePath:    configString(node.Config, "hasMorePath"),
		CursorParam:    configString(node.Config, "cursorParam"),
		PageParam:      configString(node.Config, "pageParam"),
		OffsetParam:    configString(node.Config, "offsetParam"),
		LimitParam:     configString(node.Config, "limitParam"),
		PageSize:       configInt(node.Config, "pageSize", 0),
		MaxPages:       configInt(node.Config, "maxPages", 0),
	}

	result, err := e.http.Paginate(ctx, node.ID, req, pol, spec, rc.context.CircuitBreakers())
	if err != nil {
		e.metrics.UpstreamRequests.WithLabelValues("failure").Inc()
		return nil, err
	}
	e.metrics.UpstreamRequests.WithLabelValues("success").Inc()

	if result.LastPage != nil {
		rc.context.SetLastResponse(node.ID, result.LastPage.ToMap())
	}
	return result.ToMap(), nil
}

// buildRequest renders the node's request config against the current
// context and resolves its auth reference.
func (e *Engine) buildRequest(rc *runContext, node *Node) (httpexec.Request, httpexec.Policy, error) {
	root := rc.context.TemplateRoot()

	url, err := e.eval.Render(configString(node.Config, "url"), root)
	if err != nil {
		return httpexec.Request{}, httpexec.Policy{}, err
	}
	if url == "" {
		return httpexec.Request{}, httpexec.Policy{}, fault.Errorf(fault.ValidationError, "request node %s has no url", node.ID)
	}

	headers := map[string]string{}
	if raw, ok := node.Config["headers"].(map[string]any); ok {
		rendered, err := e.eval.RenderMap(raw, root)
		if err != nil {
			return httpexec.Request{}, httpexec.Policy{}, err
		}
		for name, value := range rendered {
			headers[name] = eval.Stringify(value)
		}
	}

	body, err := e.eval.RenderValue(node.Config["body"], root)
	if err != nil {
		return httpexec.Request{}, httpexec.Policy{}, err
	}

	if authRef := configString(node.Config, "authRef"); authRef != "" {
		name, value, err := e.resolveAuth(rc, authRef)
		if err != nil {
			return httpexec.Request{}, httpexec.Policy{}, err
		}
		if _, set := headers[name]; !set {
			headers[name] = value
		}
	}

	req := httpexec.Request{
		Method:    configString(node.Config, "method"),
		URL:       url,
		Headers:   headers,
		Body:      body,
		TimeoutMs: configInt(node.Config, "timeoutMs", 0),
		Form:      node.Type == "form_request",
	}
	pol := httpexec.Policy{
		RetryAttempts:    configInt(node.Config, "retryAttempts", 0),
		Backoff:          configString(node.Config, "backoff"),
		FailureThreshold: configInt(node.Config, "circuitFailureThreshold", 0),
		OpenMs:           int64(configInt(node.Config, "circuitOpenMs", 0)),
	}
	return req, pol, nil
}

// resolveAuth looks up an authRef of the form "node_id::entry_name" in the
// graph's auth nodes and returns the header to inject.
func (e *Engine) resolveAuth(rc *runContext, authRef string) (string, string, error) {
	nodeID, entryName, ok := httpexec.SplitAuthRef(authRef)
	if !ok {
		return "", "", fault.Errorf(fault.ValidationError, "malformed authRef %q", authRef)
	}

	authNode := rc.graph.Nodes[nodeID]
	if authNode == nil || authNode.Type != "auth" {
		return "", "", fault.Errorf(fault.ValidationError, "authRef %q does not name an auth node", authRef)
	}

	for _, entry := range httpexec.ParseAuthEntries(authNode.Config) {
		if entry.Name == entryName {
			return httpexec.AuthHeader(entry, rc.context.TemplateRoot())
		}
	}
	return "", "", fault.Errorf(fault.ValidationError, "auth entry %q not found on node %s", entryName, nodeID)
}

func (e *Engine) dispatchScriptRequest(rc *runContext, node *Node) (map[string]any, error) {
	result, err := e.runScript(rc, node)
	if err != nil {
		return nil, err
	}

	response, ok := result.(map[string]any)
	if !ok || response["status_code"] == nil {
		response = map[string]any{"status_code": 200, "body": result}
	}

	rc.context.SetLastResponse(node.ID, response)
	return response, nil
}

func (e *Engine) dispatchScriptVars(rc *runContext, node *Node) (map[string]any, error) {
	result, err := e.runScript(rc, node)
	if err != nil {
		return nil, err
	}

	obj, ok := result.(map[string]any)
	if !ok {
		obj = map[string]any{"result": result}
	}
	if declared, ok := obj["vars"].(map[string]any); ok {
		obj = declared
	}

	merged := make([]string, 0, len(obj))
	for name, value := range obj {
		rc.context.Vars[name] = value
		merged = append(merged, name)
	}
	sort.Strings(merged)

	return map[string]any{"merged": merged}, nil
}

func (e *Engine) runScript(rc *runContext, node *Node) (any, error) {
	code := configString(node.Config, "code")
	if code == "" {
		code = configString(node.Config, "script")
	}
	if code == "" {
		return nil, fault.Errorf(fault.ValidationError, "script node %s has no code", node.ID)
	}
	return e.script.Run(code, rc.context.ToJSON())
}

func (e *Engine) dispatchSave(ctx context.Context, rc *runContext, node *Node) (map[string]any, error) {
	key := configString(node.Config, "key")
	if key == "" {
		return nil, fault.Errorf(fault.ValidationError, "save node %s has no key", node.ID)
	}

	var value any
	if from := configString(node.Config, "from"); from != "" {
		value = rc.context.ResolvePath(from)
	} else {
		value = rc.context.System[sysLastResponse]
	}

	if err := e.store.CreateSavedOutput(ctx, rc.exec.ID, key, value); err != nil {
		return nil, err
	}
	rc.context.SavedOutputs()[key] = value

	return map[string]any{"key": key, "value": value}, nil
}

func (e *Engine) dispatchRaise(rc *runContext, node *Node) (map[string]any, error) {
	message, _ := node.Config["message"].(string)
	rendered, err := e.eval.Render(message, rc.context.TemplateRoot())
	if err != nil {
		return nil, err
	}
	if rendered == "" {
		rendered = "error raised"
	}
	return nil, fault.Errorf(fault.NodeRaised, "%s", rendered)
}

func configString(config map[string]any, key string) string {
	s, _ := config[key].(string)
	return s
}

func configInt(config map[string]any, key string, fallback int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
