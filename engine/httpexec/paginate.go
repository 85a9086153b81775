package httpexec

import (
	"context"

	"github.com/relaydev/relay/engine/eval"
	"github.com/relaydev/relay/engine/fault"
	"github.com/relaydev/relay/engine/paths"
)

// Pagination strategies.
const (
	StrategyNextURL     = "next_url"
	StrategyCursorParam = "cursor_param"
	StrategyOffsetLimit = "offset_limit"
	StrategyPageNumber  = "page_number"

	DefaultMaxPages = 25
)

// PageSpec configures a paginated fetch. Paths are resolved against each
// page's response map ({status_code, headers, body, duration_ms, url}).
type PageSpec struct {
	Strategy       string
	ItemsPath      string
	NextCursorPath string
	HasMorePath    string
	CursorParam    string // default "cursor"
	PageParam      string // default "page"
	OffsetParam    string // default "offset"
	LimitParam     string // default "limit"
	PageSize       int
	MaxPages       int
}

func (s PageSpec) withDefaults() PageSpec {
	if s.CursorParam == "" {
		s.CursorParam = "cursor"
	}
	if s.PageParam == "" {
		s.PageParam = "page"
	}
	if s.OffsetParam == "" {
		s.OffsetParam = "offset"
	}
	if s.LimitParam == "" {
		s.LimitParam = "limit"
	}
	if s.MaxPages == 0 {
		s.MaxPages = DefaultMaxPages
	}
	if s.MaxPages < 1 {
		s.MaxPages = 1
	}
	return s
}

// PageResult is the paginator output: the last page's status, every page in
// fetch order, and the flat concatenation of items extracted per page.
type PageResult struct {
	StatusCode   int
	PagesFetched int
	Items        []any
	Pages        []map[string]any
	LastPage     *Response
}

// ToMap renders the result in its context-visible shape.
func (r *PageResult) ToMap() map[string]any {
	return map[string]any{
		"status_code":   r.StatusCode,
		"pages_fetched": r.PagesFetched,
		"items":         r.Items,
		"pages":         r.Pages,
	}
}

// Paginate fetches pages under the node's resilience policy until the
// strategy's stop condition or MaxPages is reached.
func (c *Client) Paginate(ctx context.Context, nodeID string, req Request, pol Policy, spec PageSpec, breakers map[string]any) (*PageResult, error) {
	spec = spec.withDefaults()

	result := &PageResult{Items: []any{}, Pages: []map[string]any{}}
	offset := 0

	for page := 1; page <= spec.MaxPages; page++ {
		pageReq := req
		pageReq.ExtraQuery = cloneQuery(req.ExtraQuery)

		switch spec.Strategy {
		case StrategyNextURL:
			// URL carried over from the previous page below.
		case StrategyCursorParam:
			// Cursor injected after the previous page below.
		case StrategyOffsetLimit:
			pageReq.ExtraQuery[spec.OffsetParam] = eval.Stringify(offset)
			if spec.PageSize > 0 {
				pageReq.ExtraQuery[spec.LimitParam] = eval.Stringify(spec.PageSize)
			}
		case StrategyPageNumber:
			pageReq.ExtraQuery[spec.PageParam] = eval.Stringify(page)
		default:
			return nil, fault.Errorf(fault.ValidationError, "unknown pagination strategy %q", spec.Strategy)
		}

		resp, err := c.Execute(ctx, nodeID, pageReq, pol, breakers)
		if err != nil {
			return nil, err
		}

		respMap := resp.ToMap()
		result.Pages = append(result.Pages, respMap)
		result.PagesFetched++
		result.StatusCode = resp.StatusCode
		result.LastPage = resp

		pageItems := extractItems(respMap, spec.ItemsPath)
		result.Items = append(result.Items, pageItems...)

		more, next := spec.advance(respMap, len(pageItems))
		if !more {
			break
		}
		switch spec.Strategy {
		case StrategyNextURL:
			req.URL = next
		case StrategyCursorParam:
			req.ExtraQuery = cloneQuery(req.ExtraQuery)
			req.ExtraQuery[spec.CursorParam] = next
		case StrategyOffsetLimit:
			offset += len(pageItems)
		}
	}

	return result, nil
}

// advance decides whether another page exists and, for cursor-driven
// strategies, what the next cursor or URL is.
func (s PageSpec) advance(respMap map[string]any, pageItemCount int) (bool, string) {
	switch s.Strategy {
	case StrategyNextURL:
		next, ok := paths.Resolve(respMap, s.NextCursorPath).(string)
		if !ok || next == "" {
			return false, ""
		}
		return true, next
	case StrategyCursorParam:
		cursor := paths.Resolve(respMap, s.NextCursorPath)
		if !eval.Truthy(cursor) {
			return false, ""
		}
		return true, eval.Stringify(cursor)
	case StrategyOffsetLimit:
		if s.PageSize <= 0 {
			return pageItemCount > 0, ""
		}
		return pageItemCount >= s.PageSize, ""
	case StrategyPageNumber:
		return eval.Truthy(paths.Resolve(respMap, s.HasMorePath)), ""
	default:
		return false, ""
	}
}

func extractItems(respMap map[string]any, itemsPath string) []any {
	if itemsPath == "" {
		return nil
	}
	items, _ := paths.Resolve(respMap, itemsPath).([]any)
	return items
}

func cloneQuery(q map[string]string) map[string]string {
	out := make(map[string]string, len(q)+1)
	for k, v := range q {
		out[k] = v
	}
	return out
}
