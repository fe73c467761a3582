package control

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

func (s *Server) registerBuiltins() {
	s.Handle("list-tools", s.handleListTools, Schema{
		Description: "List every registered command with its parameters",
	})
	s.Handle("list-resources", s.handleListResources, Schema{
		Description: "List the URIs of every registered resource",
	})
	s.Handle("get-resource", s.handleGetResource, Schema{
		Description: "Fetch the content of a registered resource",
		Params: []Param{
			{Name: "uri", Type: "string", Description: "Resource URI", Required: true},
		},
	})
}

type listToolsResult struct {
	Success bool       `json:"success"`
	Tools   []ToolInfo `json:"tools"`
}

func (s *Server) handleListTools(_ context.Context, _ json.RawMessage, _ *Call) (any, error) {
	return listToolsResult{Success: true, Tools: slices.Collect(s.commands.List())}, nil
}

type listResourcesResult struct {
	Success   bool     `json:"success"`
	Resources []string `json:"resources"`
}

func (s *Server) handleListResources(_ context.Context, _ json.RawMessage, _ *Call) (any, error) {
	return listResourcesResult{Success: true, Resources: s.resources.URIs()}, nil
}

type getResourceParams struct {
	URI string `json:"uri"`
}

type getResourceResult struct {
	Success  bool `json:"success"`
	Resource any  `json:"resource"`
}

func (s *Server) handleGetResource(_ context.Context, params json.RawMessage, _ *Call) (any, error) {
	var p getResourceParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}
	if p.URI == "" {
		return nil, fmt.Errorf("uri is required")
	}
	content, ok := s.resources.Get(p.URI)
	if !ok {
		return nil, fmt.Errorf("resource not found: %s", p.URI)
	}
	return getResourceResult{Success: true, Resource: content}, nil
}
